package encryption

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"

	"todo-go/internal/todo"
)

// testHeader marks values produced by TestEncryptor.
var testHeader = []byte("TODOTEST")

const testMask = 0x5a

// TestEncryptor is a deterministic stand-in for age in tests. It writes a
// fixed header followed by the input XOR-ed with a constant byte, so cached
// JSON is not readable as plaintext but no keys are needed.
type TestEncryptor struct {
	setupCalled bool
}

var _ todo.Encryptor = (*TestEncryptor)(nil)

func NewTestEncryptor() *TestEncryptor {
	return &TestEncryptor{}
}

func (e *TestEncryptor) Setup(passphrase string) error {
	e.setupCalled = true
	return nil
}

func (e *TestEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	if _, err := w.Write(testHeader); err != nil {
		return fmt.Errorf("writing test header: %w", err)
	}
	return maskCopy(w, r)
}

func (e *TestEncryptor) Unlock(passphrase string) (todo.DecryptionContext, error) {
	if passphrase == "" {
		return nil, errors.New("passphrase must not be empty")
	}
	return &TestDecryptionContext{}, nil
}

func (e *TestEncryptor) IsConfigured() bool { return true }

// TestDecryptionContext reverses TestEncryptor.
type TestDecryptionContext struct{}

var _ todo.DecryptionContext = (*TestDecryptionContext)(nil)

func (c *TestDecryptionContext) Decrypt(r io.Reader, w io.Writer) error {
	header := make([]byte, len(testHeader))
	if _, err := io.ReadFull(r, header); err != nil {
		return fmt.Errorf("reading test header: %w", err)
	}
	if !bytes.Equal(header, testHeader) {
		return errors.New("invalid test encryption header")
	}
	return maskCopy(w, r)
}

func maskCopy(w io.Writer, r io.Reader) error {
	br := bufio.NewReader(r)
	bw := bufio.NewWriter(w)
	for {
		b, err := br.ReadByte()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading data: %w", err)
		}
		if err := bw.WriteByte(b ^ testMask); err != nil {
			return fmt.Errorf("writing data: %w", err)
		}
	}
	return bw.Flush()
}
