package securitymanager

import (
	"os"
	"strings"

	"github.com/nuclio/errors"
)

// Z85 encoded CURVE keys are always this long.
const keyLength = 40

// keyPair is embedded in both managers and gives them LoadKeys/WriteKeys.
type keyPair struct {
	public, private string
}

// LoadKeys reads the key pair from the given files. An empty file name leaves
// that key untouched, so a public key alone can be loaded.
func (kp *keyPair) LoadKeys(publicFile, privateFile string) error {
	if publicFile != "" {
		key, err := readKey(publicFile)
		if err != nil {
			return err
		}
		kp.public = key
	}

	if privateFile != "" {
		key, err := readKey(privateFile)
		if err != nil {
			return err
		}
		kp.private = key
	}
	return nil
}

// WriteKeys writes the key pair to the given files; an empty name skips that key.
func (kp *keyPair) WriteKeys(publicFile, privateFile string) error {
	if publicFile != "" {
		if err := writeKey(publicFile, kp.public); err != nil {
			return err
		}
	}

	if privateFile != "" {
		if err := writeKey(privateFile, kp.private); err != nil {
			return err
		}
	}
	return nil
}

func (kp *keyPair) PublicKey() string {
	return kp.public
}

func (kp *keyPair) complete() bool {
	return kp.public != "" && kp.private != ""
}

func readKey(filename string) (string, error) {
	contents, err := os.ReadFile(filename)
	if err != nil {
		return "", errors.Wrapf(err, "Failed to read key file %s", filename)
	}

	key := strings.TrimSpace(string(contents))
	if len(key) != keyLength {
		return "", errors.Errorf("Key file %s does not hold a Z85 key", filename)
	}
	return key, nil
}

func writeKey(filename, key string) error {
	if len(key) != keyLength {
		return errors.Errorf("Refusing to write a key of length %d", len(key))
	}

	if err := os.WriteFile(filename, []byte(key), 0o600); err != nil {
		return errors.Wrapf(err, "Failed to write key file %s", filename)
	}
	return nil
}
