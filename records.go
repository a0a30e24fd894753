package main

import (
	"bytes"
	"encoding/json"
)

// The document shapes below only carry the fields the validator looks at.

type processor struct {
	Name  string `json:"name"`
	Event string `json:"event"`
}

type micros struct {
	US int64 `json:"us"`
}

type named struct {
	Name string `json:"name"`
}

type serviceContext struct {
	Name      string `json:"name"`
	Agent     named  `json:"agent"`
	Framework named  `json:"framework"`
	Language  named  `json:"language"`
	Runtime   named  `json:"runtime"`
}

type requestContext struct {
	Method string `json:"method"`
	URL    struct {
		Hostname string  `json:"hostname"`
		Pathname string  `json:"pathname"`
		Search   *string `json:"search"`
	} `json:"url"`
}

type responseContext struct {
	StatusCode *int `json:"status_code"`
}

type transactionContext struct {
	Request  requestContext         `json:"request"`
	Response *responseContext       `json:"response"`
	Tags     map[string]interface{} `json:"tags"`
	User     map[string]interface{} `json:"user"`
	Custom   map[string]interface{} `json:"custom"`
	Service  serviceContext         `json:"service"`
}

type transactionDoc struct {
	Timestamp   string    `json:"@timestamp"`
	Processor   processor `json:"processor"`
	Transaction struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		Type     string `json:"type"`
		Result   string `json:"result"`
		Duration micros `json:"duration"`
	} `json:"transaction"`
	Context transactionContext `json:"context"`
}

type stackFrame struct {
	Function string          `json:"function"`
	AbsPath  string          `json:"abs_path"`
	Filename string          `json:"filename"`
	Line     json.RawMessage `json:"line"`
}

type spanDoc struct {
	Processor processor `json:"processor"`
	Span      struct {
		Name       string       `json:"name"`
		Start      micros       `json:"start"`
		Duration   micros       `json:"duration"`
		Stacktrace []stackFrame `json:"stacktrace"`
	} `json:"span"`
	Context struct {
		Service serviceContext `json:"service"`
	} `json:"context"`
}

var emptyJSON = [][]byte{
	[]byte(`null`), []byte(`""`), []byte(`0`), []byte(`{}`), []byte(`[]`), []byte(`false`),
}

// present reports whether raw holds a non-empty JSON value.
func present(raw json.RawMessage) bool {
	v := bytes.TrimSpace(raw)
	if len(v) == 0 {
		return false
	}
	for _, e := range emptyJSON {
		if bytes.Equal(v, e) {
			return false
		}
	}
	return true
}
