//go:build !linux

package runner

func setupCgroupFor(id string) (string, error) {
	return "", nil
}

func killCgroup(id string) (bool, error) {
	return false, nil
}

func cleanupCgroup(id string) error {
	return nil
}
