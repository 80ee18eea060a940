package epochstore

// multiOpState aggregates create operations into a single atomic batch and
// carries the per operation sub results back to its completion. Once
// dispatched through run, the state is owned by the completion closure and
// must not be touched by the dispatcher anymore
type multiOpState struct {
	// zrq is the request that drives the multi op, nil for root creation steps
	zrq request

	// ops holds the create operations in submission order
	ops []CreateOp

	// results holds the per operation results once the batch completed
	results []OpResponse
}

// newMultiOpState instantiate a multi op state for the given request, which
// may be nil
func newMultiOpState(zrq request) *multiOpState {
	return &multiOpState{zrq: zrq}
}

// addCreateOp appends a create operation to the batch, copying value
func (m *multiOpState) addCreateOp(path string, value []byte) {
	m.ops = append(m.ops, CreateOp{
		Path:  path,
		Value: append([]byte(nil), value...),
	})
}

// run dispatches the batch on the given client. cf is invoked exactly once
// with this state, carrying the sub results, and owns the state from then on
func (m *multiOpState) run(client Coordination, cf func(err error, state *multiOpState)) {
	client.MultiOp(m.ops, func(err error, results []OpResponse) {
		m.results = results
		cf(err, m)
	})
}
