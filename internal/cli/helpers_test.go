package cli_test

import "os"

func writeText(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o600)
}
