package main

// SpanNameCount is the expected number of spans with a given name.
type SpanNameCount struct {
	Name  string
	Count int
}

// EndpointExpectation is the expected record counts for a single endpoint.
type EndpointExpectation struct {
	Endpoint     *Endpoint
	Transactions int
	Spans        int
	SpanNames    []SpanNameCount
}

// Expectation is the expected state of the index after a number of
// iterations. The index is only cleaned before the first iteration, so all
// counts grow with the iteration number.
type Expectation struct {
	Iteration    int
	Transactions int
	Spans        int
	PerEndpoint  []EndpointExpectation
}

// NewExpectation sums the expected counts of endpoints after iteration
// iterations. It depends on nothing but its arguments.
//
// Each request is assumed to produce exactly one span of each declared
// name, so an endpoint's span count is split evenly across its names.
func NewExpectation(endpoints []*Endpoint, iteration int) Expectation {
	exp := Expectation{
		Iteration:   iteration,
		PerEndpoint: make([]EndpointExpectation, 0, len(endpoints)),
	}
	for _, ep := range endpoints {
		ee := EndpointExpectation{
			Endpoint:     ep,
			Transactions: ep.Count(KindTransaction) * iteration,
			Spans:        ep.Count(KindSpan) * iteration,
		}
		names := ep.SpanNames()
		for _, name := range names {
			ee.SpanNames = append(ee.SpanNames, SpanNameCount{
				Name:  name,
				Count: ee.Spans / len(names),
			})
		}
		exp.Transactions += ee.Transactions
		exp.Spans += ee.Spans
		exp.PerEndpoint = append(exp.PerEndpoint, ee)
	}
	return exp
}

// Count returns the aggregate expected count for kind, 0 for unknown kinds.
func (x Expectation) Count(kind Kind) int {
	switch kind {
	case KindTransaction:
		return x.Transactions
	case KindSpan:
		return x.Spans
	default:
		return 0
	}
}
