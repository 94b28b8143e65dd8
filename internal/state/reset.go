package state

// ResetInfra is the operator-facing reset: it loads the state in dir, clears
// the initialized flag of every named infra and persists the result in one
// write. When any name is unknown the state file is left untouched and an
// *UnknownInfraError names the first unknown one.
func ResetInfra(dir string, names ...string) error {
	store, err := OpenExisting(dir)
	if err != nil {
		return err
	}
	missing, err := store.ResetInit(names...)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		return &UnknownInfraError{Name: missing[0], Known: store.Names()}
	}
	return nil
}

// ResetAll clears every infra's initialized flag and returns the names that
// were reset.
func ResetAll(dir string) ([]string, error) {
	store, err := OpenExisting(dir)
	if err != nil {
		return nil, err
	}
	names := store.Names()
	if _, err := store.ResetInit(names...); err != nil {
		return nil, err
	}
	return names, nil
}
