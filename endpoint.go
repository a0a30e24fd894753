package main

import (
	"fmt"
	"path"

	"github.com/goware/urlx"
)

// Agent is the instrumentation identity attached to the records of an app.
type Agent string

const (
	AgentPython Agent = "elasticapm-python"
	AgentNode   Agent = "nodejs"
)

// appAgents is the closed mapping from app name to agent. Anything not
// listed here is rejected when the endpoint is built.
var appAgents = map[string]Agent{
	"flask_app":   AgentPython,
	"django_app":  AgentPython,
	"express_app": AgentNode,
}

// agentProfile is the set of fields a transaction from a given agent must carry.
type agentProfile struct {
	languageField string // "language" or "runtime"
	language      string
	frameworks    []string
	search        string
	checkResponse bool // context.response.status_code must equal the expected status
	emptyUser     bool // context.user and context.custom must be empty
}

var agentProfiles = map[Agent]agentProfile{
	AgentPython: {
		languageField: "language",
		language:      "python",
		frameworks:    []string{"django", "flask"},
		search:        "",
	},
	AgentNode: {
		languageField: "runtime",
		language:      "node",
		frameworks:    []string{"express"},
		search:        "?",
		checkResponse: true,
		emptyUser:     true,
	},
}

// Kind is the type of a telemetry record.
type Kind string

const (
	KindTransaction Kind = "transaction"
	KindSpan        Kind = "span"
)

const DefaultEventsNo = 1000

// EndpointConfig is the user-facing description of an endpoint, as read
// from the config file or the command line.
type EndpointConfig struct {
	URL             string   `yaml:"url"`
	AppName         string   `yaml:"app_name"`
	TransactionName string   `yaml:"transaction_name"`
	SpanNames       []string `yaml:"span_names,omitempty"`
	EventsNo        *int     `yaml:"events_no,omitempty"`
}

// Endpoint is one load target. It is immutable once built.
type Endpoint struct {
	url             string
	appName         string
	transactionName string
	spanNames       []string
	eventsNo        int
	agent           Agent
	pathname        string
}

// NewEndpoint validates cfg and derives the agent and path of the endpoint.
// defaultEvents is used when cfg does not set events_no.
func NewEndpoint(cfg EndpointConfig, defaultEvents int) (*Endpoint, error) {
	agent, ok := appAgents[cfg.AppName]
	if !ok {
		return nil, &ConfigError{Reason: fmt.Sprintf("missing agent for app %q", cfg.AppName)}
	}
	u, err := urlx.Parse(cfg.URL)
	if err != nil {
		return nil, &ConfigError{Reason: fmt.Sprintf("unable to parse url %q: %v", cfg.URL, err)}
	}
	events := defaultEvents
	if cfg.EventsNo != nil {
		events = *cfg.EventsNo
	}
	if events < 0 {
		return nil, &ConfigError{Reason: fmt.Sprintf("events_no for %s must not be negative, got %d", cfg.URL, events)}
	}
	if cfg.TransactionName == "" {
		return nil, &ConfigError{Reason: fmt.Sprintf("missing transaction name for %s", cfg.URL)}
	}
	spans := make([]string, len(cfg.SpanNames))
	copy(spans, cfg.SpanNames)
	return &Endpoint{
		url:             u.String(),
		appName:         cfg.AppName,
		transactionName: cfg.TransactionName,
		spanNames:       spans,
		eventsNo:        events,
		agent:           agent,
		pathname:        path.Base(path.Clean(u.Path)),
	}, nil
}

func (e *Endpoint) URL() string             { return e.url }
func (e *Endpoint) AppName() string         { return e.appName }
func (e *Endpoint) TransactionName() string { return e.transactionName }
func (e *Endpoint) EventsNo() int           { return e.eventsNo }
func (e *Endpoint) Agent() Agent            { return e.agent }

// Pathname is the last element of the URL path, which is what the agents
// report as the request pathname.
func (e *Endpoint) Pathname() string { return e.pathname }

// SpanNames returns a copy of the declared span names, in order.
func (e *Endpoint) SpanNames() []string {
	out := make([]string, len(e.spanNames))
	copy(out, e.spanNames)
	return out
}

// PerEvent is the number of records of the given kind one request produces.
func (e *Endpoint) PerEvent(kind Kind) int {
	switch kind {
	case KindTransaction:
		return 1
	case KindSpan:
		return len(e.spanNames)
	default:
		return 0
	}
}

// Count is the number of records of the given kind one iteration produces.
func (e *Endpoint) Count(kind Kind) int {
	return e.PerEvent(kind) * e.eventsNo
}

func (e *Endpoint) String() string {
	return fmt.Sprintf("%s (%s)", e.url, e.appName)
}
