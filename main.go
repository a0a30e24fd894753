package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/goware/urlx"
	"github.com/jessevdk/go-flags"
	"gopkg.in/yaml.v3"
)

var ResourceLibrary = "apmverify"
var ResourceVersion = "dev"

type Options struct {
	Index struct {
		Addresses []string `long:"es" description:"elasticsearch address; may be repeated" env:"ELASTICSEARCH_URL" env-delim:"," default:"http://localhost:9200"`
		Username  string   `long:"esuser" description:"elasticsearch username" env:"ELASTICSEARCH_USERNAME" yaml:",omitempty"`
		Password  string   `long:"espassword" description:"elasticsearch password(*)" env:"ELASTICSEARCH_PASSWORD" yaml:"-"`
		Pattern   string   `long:"index" description:"index pattern holding the apm documents" default:"apm-*"`
	} `group:"Index Options"`
	Load struct {
		Iters          int           `long:"iters" description:"number of batches to send; counts are checked after each one" default:"1"`
		EventsNo       int           `long:"events" description:"requests per endpoint per batch, unless the endpoint sets events_no" default:"1000"`
		MaxClients     int           `long:"maxclients" description:"maximum number of requests in flight" default:"4"`
		ConnectTimeout time.Duration `long:"connecttimeout" description:"connect timeout of a single request" default:"90s"`
		RequestTimeout time.Duration `long:"requesttimeout" description:"total timeout of a single request" default:"120s"`
		ExpectedStatus int           `long:"status" description:"the only HTTP status accepted from endpoints" default:"200"`
		DryRun         bool          `long:"dryrun" description:"only send requests; do not clean or check the index" yaml:",omitempty"`
	} `group:"Load Options"`
	Verify struct {
		MaxWait    time.Duration `long:"maxwait" description:"how long to wait for a count to be reached" default:"60s"`
		Backoff    time.Duration `long:"backoff" description:"pause between two count queries" default:"500ms"`
		SampleSize int           `long:"samplesize" description:"transactions per endpoint whose content is checked" default:"10"`
	} `group:"Verify Options"`
	Telemetry struct {
		Tracer   string `long:"tracer" description:"where to send traces of this tool's own runs" choice:"none" choice:"otel" choice:"honeycomb" default:"none"`
		Protocol string `long:"protocol" description:"for otel only, protocol to use" choice:"grpc" choice:"http" default:"grpc"`
		Host     string `long:"host" description:"the url of the host to receive the telemetry (or honeycomb, local)" default:"honeycomb"`
		Insecure bool   `long:"insecure" description:"use this for insecure http (not https) connections" yaml:",omitempty"`
		Dataset  string `long:"dataset" description:"sends all traces to the given dataset" env:"HONEYCOMB_DATASET" default:"apmverify"`
		APIKey   string `long:"apikey" description:"the honeycomb API key(*)" env:"HONEYCOMB_API_KEY" yaml:"-"`
	} `group:"Telemetry Options"`
	Global struct {
		LogLevel  string `long:"loglevel" description:"level of logging" choice:"debug" choice:"info" choice:"warn" choice:"error" default:"info"`
		DebugPort int    `long:"debugport" description:"port to listen on for pprof(*)" default:"-1" yaml:"-"`
		Seed      string `long:"seed" description:"string seed for request ids (defaults to the index pattern)" yaml:",omitempty"`
		Config    string `long:"config" description:"name of config file to load(*)" default:"" yaml:"-"`
		WriteCfg  string `long:"writecfg" description:"write effective YAML config to the specified output file and quit(*)" default:"" yaml:"-"`
	} `group:"Global Options"`
	Endpoints []EndpointConfig `yaml:"endpoints,omitempty"`
	apihost   *url.URL
}

func newOptions() *Options {
	return &Options{}
}

func (o *Options) CopyStarredFieldsFrom(other *Options) {
	o.Index.Password = other.Index.Password
	o.Telemetry.APIKey = other.Telemetry.APIKey
	o.Global.DebugPort = other.Global.DebugPort
	o.Global.Config = other.Global.Config
	o.Global.WriteCfg = other.Global.WriteCfg
}

// parses the host information and returns a cleaned-up version to make
// it easier to make sure that things are properly specified
func parseHost(host string, insecure bool) (*url.URL, error) {
	switch host {
	case "honeycomb":
		host = "https://api.honeycomb.io:443"
	case "local":
		host = "http://localhost:4317"
	default:
	}

	// if the scheme is not specified, fall back to the value of the insecure flag
	defaultScheme := "https"
	if insecure {
		defaultScheme = "http"
	}
	u, err := urlx.ParseWithDefaultScheme(host, defaultScheme)
	if err != nil {
		return nil, fmt.Errorf("unable to parse host: %w", err)
	}
	if u.Port() == "" {
		u.Host = fmt.Sprintf("%s:4317", u.Host) // default GRPC port
	}
	return u, nil
}

// parseEndpointArg reads an endpoint given on the command line as
// APP,URL,TRANSACTION[,SPAN;SPAN...].
func parseEndpointArg(arg string) (EndpointConfig, error) {
	parts := strings.Split(arg, ",")
	if len(parts) < 3 || len(parts) > 4 {
		return EndpointConfig{}, fmt.Errorf("endpoint `%s` should be APP,URL,TRANSACTION[,SPAN;SPAN...]", arg)
	}
	cfg := EndpointConfig{
		AppName:         parts[0],
		URL:             parts[1],
		TransactionName: parts[2],
	}
	if len(parts) == 4 && parts[3] != "" {
		cfg.SpanNames = strings.Split(parts[3], ";")
	}
	return cfg, nil
}

// buildEndpoints turns the configured endpoints into Endpoints, failing on
// the first one that cannot be used.
func buildEndpoints(opts *Options) ([]*Endpoint, error) {
	if len(opts.Endpoints) == 0 {
		return nil, errors.New("no endpoints configured")
	}
	endpoints := make([]*Endpoint, 0, len(opts.Endpoints))
	for _, cfg := range opts.Endpoints {
		ep, err := NewEndpoint(cfg, opts.Load.EventsNo)
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, ep)
	}
	return endpoints, nil
}

func ReadConfig(opts *Options, filename string) error {
	f, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	err = dec.Decode(opts)
	if err != nil {
		return err
	}
	log.Printf("read config from %s\n", filename)
	return nil
}

func WriteConfig(opts *Options, filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := yaml.NewEncoder(f)
	err = enc.Encode(opts)
	if err != nil {
		return err
	}
	log.Printf("wrote config to %s\n", filename)
	return nil
}

func main() {
	cmdopts := newOptions()

	parser := flags.NewParser(cmdopts, flags.Default)
	parser.Usage = `[OPTIONS] [APP,URL,TRANSACTION[,SPAN;SPAN...]]...

	apmverify load tests an APM pipeline end to end. It sends a fixed number of
	GET requests to each instrumented endpoint, waits for all of them to finish,
	and then checks that Elasticsearch holds exactly the transactions and spans
	those requests should have produced, and that their content is sane
	(durations, timestamps, request context, agent fields, stack traces).

	The index is cleaned once before the first batch. With --iters=N the batch
	is sent N times and the expected counts grow with every batch.

	Endpoints are given as arguments, as APP,URL,TRANSACTION followed by an
	optional semicolon-separated list of span names each request produces, e.g.
		flask_app,http://localhost:8001/foo,GET /foo,db.query
	or in the config file under the "endpoints" key:
		endpoints:
		  - app_name: express_app
		    url: http://localhost:8002/bar
		    transaction_name: GET /bar
		    span_names: [app.span]
		    events_no: 500
	Supported apps are flask_app, django_app and express_app.

	Options can be set in a config file, or on the command line; to specify them in the
	config file, specify it on the command line with "--config=FILENAME". The config file
	format is YAML.

	Note: If a config file is used, it MUST be used for all options, except for the ones
	marked in the help text with (*) -- these fields CANNOT be set in the config file.
	`

	// read the command line and envvars into cmdargs
	args, err := parser.Parse()
	if err != nil {
		switch flagsErr := err.(type) {
		case *flags.Error:
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
		}
		log.Fatalf("error reading command line: %v", err)
	}

	opts := newOptions()
	if cmdopts.Global.Config != "" {
		// start from the defaults so the file only needs what it changes
		if _, err := flags.NewParser(opts, flags.IgnoreUnknown).ParseArgs(nil); err != nil {
			log.Fatalf("unable to set defaults: %v", err)
		}
		if err := ReadConfig(opts, cmdopts.Global.Config); err != nil {
			log.Fatalf("err %v -- unable to read config file %s", err, cmdopts.Global.Config)
		}
		opts.CopyStarredFieldsFrom(cmdopts)
	} else {
		opts = cmdopts // we don't have to read from a file
	}

	for _, arg := range args {
		cfg, err := parseEndpointArg(arg)
		if err != nil {
			log.Fatal(err)
		}
		opts.Endpoints = append(opts.Endpoints, cfg)
	}

	if opts.Global.WriteCfg != "" {
		err := WriteConfig(opts, opts.Global.WriteCfg)
		if err != nil {
			log.Fatalf("unable to write config: %s\n", err)
		}
		os.Exit(0)
	}

	if opts.Global.Seed == "" {
		opts.Global.Seed = opts.Index.Pattern
	}

	if opts.Global.DebugPort > 0 {
		go func() {
			http.ListenAndServe(fmt.Sprintf("localhost:%d", opts.Global.DebugPort), nil)
		}()
	}

	log := NewLogger(opts.Global.LogLevel)

	endpoints, err := buildEndpoints(opts)
	if err != nil {
		log.Fatal("%s\n", err)
	}

	if opts.Telemetry.Tracer != "none" {
		opts.apihost, err = parseHost(opts.Telemetry.Host, opts.Telemetry.Insecure)
		if err != nil {
			log.Fatal("%s\n", err)
		}
		log.Info("tracing to host: %s, dataset: %s, apikey: ...%4.4s", opts.apihost.String(), opts.Telemetry.Dataset, opts.Telemetry.APIKey)
	}
	tracer := NewTracer(log, opts)
	defer tracer.Close()

	index, err := NewESIndex(opts.Index.Addresses, opts.Index.Username, opts.Index.Password)
	if err != nil {
		log.Fatal("%s\n", err)
	}
	log.Info("elasticsearch: %v, index: %s, %d endpoints, %d iterations", opts.Index.Addresses, opts.Index.Pattern, len(endpoints), opts.Load.Iters)

	runner := NewBatchRunner(log, tracer, index, endpoints,
		NewDispatcher(log, tracer, opts),
		NewVerifier(log, tracer, index, endpoints, opts),
		NewValidator(log, tracer, index, endpoints, clock.New(), opts),
		opts,
	)

	// stop at ctrl-c; in-flight requests and polls are abandoned
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := runner.Run(ctx); err != nil {
		log.Error("run failed while %s: %s", runner.FailedIn(), err)
		tracer.Close()
		os.Exit(1)
	}
}
