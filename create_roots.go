package epochstore

import "strings"

// createRootsState walks the ancestors of the store root path and creates
// them one by one, parent first, after a log subtree creation failed because
// the parent was missing. Each create is issued as a one element multi op to
// share the coordination API surface. Once every ancestor exists the deferred
// log subtree multi op is re-dispatched
type createRootsState struct {
	// deferred is the log subtree multi op that failed with StatusNotFound.
	// It's not acted on until all the root znodes exist
	deferred *multiOpState

	// paths holds the remaining paths to create, shallowest first
	paths []string
}

// newCreateRootsState enumerates every ancestor of rootPath, stopping before
// "/", ordered so creation proceeds from the shallowest ancestor down
func newCreateRootsState(deferred *multiOpState, rootPath string) *createRootsState {
	var paths []string
	for path := rootPath; path != "" && path != "/"; path = parentPath(path) {
		paths = append(paths, path)
	}
	// reverse to creation order
	for i, j := 0, len(paths)-1; i < j; i, j = i+1, j-1 {
		paths[i], paths[j] = paths[j], paths[i]
	}
	return &createRootsState{
		deferred: deferred,
		paths:    paths,
	}
}

// nextPath return the path the next create targets
func (s *createRootsState) nextPath() string {
	return s.paths[0]
}

// run schedules the creation of the next path. The state is owned by the
// completion closure from here until it fires
func (s *createRootsState) run(store *EpochStore) {
	client := store.client()
	op := newMultiOpState(nil)
	op.addCreateOp(s.nextPath(), nil)
	store.logger.Trace().Msgf("Scheduling creation of root znode %s", s.nextPath())
	op.run(client, func(err error, _ *multiOpState) {
		s.onCreateComplete(store, err)
	})
}

// onCreateComplete is invoked for every ancestor creation. An ancestor that
// already exists counts as created; any other failure aborts the chain and
// propagates through the deferred operation completion
func (s *createRootsState) onCreateComplete(store *EpochStore, err error) {
	st := store.mapStatus(err, LogIDInvalid)
	if st == StatusOK {
		store.logger.Info().Msgf("Created root znode %s successfully", s.nextPath())
	} else {
		store.logger.Trace().Msgf("Creation of root znode %s completed with status %s", s.nextPath(), st.String())
	}

	if st == StatusOK || st == StatusExists {
		s.paths = s.paths[1:]
		if len(s.paths) > 0 {
			s.run(store)
			return
		}
	}
	store.onCreateRootZnodesComplete(s, err)
}

// parentPath return the parent of a slash separated path, or "" at the top
func parentPath(path string) string {
	idx := strings.LastIndexByte(path, '/')
	if idx <= 0 {
		return ""
	}
	return path[:idx]
}
