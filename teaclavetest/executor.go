package teaclavetest

import (
	"bufio"
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/ioutil"
	"strings"

	"go.uber.org/zap"

	tc "github.com/kwonalbert/teaclave_client"
)

// BuiltinFunc is a builtin function body. args holds the decoded task
// arguments and inputs the decrypted content of every input slot. The
// returned string becomes the task's return value.
type BuiltinFunc func(args map[string]interface{}, inputs map[string][]byte) (string, error)

// DefaultBuiltins returns the builtins every Service starts with:
// builtin-echo and builtin-password-check.
func DefaultBuiltins() map[string]BuiltinFunc {
	return map[string]BuiltinFunc{
		"builtin-echo":           echo,
		"builtin-password-check": passwordCheck,
	}
}

func echo(args map[string]interface{}, _ map[string][]byte) (string, error) {
	msg, ok := args["message"].(string)
	if !ok {
		return "", errors.New("missing message argument")
	}
	return msg, nil
}

func passwordCheck(_ map[string]interface{}, inputs map[string][]byte) (string, error) {
	password, ok := inputs["password"]
	if !ok {
		return "", errors.New("missing password input")
	}
	exposed, ok := inputs["exposed_passwords"]
	if !ok {
		return "", errors.New("missing exposed_passwords input")
	}

	// only the first line of the password file counts
	first := strings.SplitN(string(password), "\n", 2)[0]
	first = strings.TrimSpace(first)

	scanner := bufio.NewScanner(bytes.NewReader(exposed))
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) == first {
			return "true", nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "false", nil
}

// execute runs an invoked task to completion. Must be called with s.mu
// held.
func (s *Service) execute(t *task) {
	result, err := s.run(t)
	if err != nil {
		t.phase = tc.TaskFailed
		t.reason = err.Error()
		s.logger.Info("Task failed", zap.String("task", t.id), zap.Error(err))
		return
	}
	t.phase = tc.TaskFinished
	t.result = result
	s.logger.Info("Task finished", zap.String("task", t.id))
}

func (s *Service) run(t *task) (string, error) {
	f, ok := s.functions[t.functionID]
	if !ok {
		return "", errors.New("function not found")
	}
	if tc.ExecutorKind(f.def.ExecutorType) != tc.ExecutorBuiltin {
		return "", fmt.Errorf("executor not available: %s", f.def.ExecutorType)
	}
	fn, ok := s.builtins[f.def.Name]
	if !ok {
		return "", fmt.Errorf("unknown builtin function %s", f.def.Name)
	}

	var args map[string]interface{}
	if err := json.Unmarshal([]byte(t.args), &args); err != nil {
		return "", fmt.Errorf("cannot deserialize arguments: %w", err)
	}

	inputs := make(map[string][]byte, len(t.assignedInputs))
	for name, id := range t.assignedInputs {
		data, err := s.open(s.files[id])
		if err != nil {
			return "", fmt.Errorf("input %s: %w", name, err)
		}
		inputs[name] = data
	}
	return fn(args, inputs)
}

// open fetches and decrypts an input file, checking its tag against
// the registered cmac.
func (s *Service) open(f *file) ([]byte, error) {
	sealed, err := fetch(f.url)
	if err != nil {
		return nil, err
	}

	var keyLen int
	switch f.crypto.Schema {
	case "aes-gcm-128":
		keyLen = 16
	case "aes-gcm-256":
		keyLen = 32
	default:
		return nil, fmt.Errorf("unsupported crypto schema %q", f.crypto.Schema)
	}
	if len(f.crypto.Key) != keyLen {
		return nil, fmt.Errorf("key must be %d bytes", keyLen)
	}

	block, err := aes.NewCipher(f.crypto.Key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(f.crypto.IV) != gcm.NonceSize() {
		return nil, fmt.Errorf("iv must be %d bytes", gcm.NonceSize())
	}
	if len(sealed) < gcm.Overhead() {
		return nil, errors.New("file too short")
	}

	tag := hex.EncodeToString(sealed[len(sealed)-gcm.Overhead():])
	if !strings.EqualFold(tag, f.cmac) {
		return nil, errors.New("cmac mismatch")
	}
	return gcm.Open(nil, f.crypto.IV, sealed, nil)
}

// fetch reads base64 data: URLs and file:// paths.
func fetch(url string) ([]byte, error) {
	switch {
	case strings.HasPrefix(url, "data:"):
		i := strings.IndexByte(url, ',')
		if i < 0 || !strings.HasSuffix(url[:i], ";base64") {
			return nil, errors.New("only base64 data urls are supported")
		}
		return base64.StdEncoding.DecodeString(url[i+1:])
	case strings.HasPrefix(url, "file://"):
		return ioutil.ReadFile(strings.TrimPrefix(url, "file://"))
	}
	return nil, fmt.Errorf("unsupported url %q", url)
}

// SealFile encrypts content with AES-GCM the way input files are
// expected to be stored, and returns a data: URL holding the sealed
// bytes together with the hex encoded tag to register as the cmac.
func SealFile(content, key, iv []byte) (url, cmac string, err error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", "", err
	}
	if len(iv) != gcm.NonceSize() {
		return "", "", fmt.Errorf("iv must be %d bytes", gcm.NonceSize())
	}
	sealed := gcm.Seal(nil, iv, content, nil)
	tag := sealed[len(sealed)-gcm.Overhead():]
	url = "data:application/octet-stream;base64," + base64.StdEncoding.EncodeToString(sealed)
	return url, hex.EncodeToString(tag), nil
}
