// example_client runs the builtin echo or password check task against a
// Teaclave deployment (or example_server).
//
//	example_client --config client.yaml echo --message "Hello, Teaclave!"
//	example_client --config client.yaml password-check --password-file pw.txt --exposed-file exposed.txt
package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"io/ioutil"
	"os"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/term"

	tc "github.com/kwonalbert/teaclave_client"
	"github.com/kwonalbert/teaclave_client/teaclavetest"
)

type options struct {
	config   string
	user     string
	password string
	timeout  time.Duration

	message      string
	passwordFile string
	exposedFile  string
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var o options
	flagSet := pflag.NewFlagSet("example_client", pflag.ContinueOnError)
	flagSet.StringVar(&o.config, "config", "client.yaml", "configuration file (YAML or JSON)")
	flagSet.StringVar(&o.user, "user", "test_id", "user id to register and log in as")
	flagSet.StringVar(&o.password, "password", "", "password of the user (prompted for if empty)")
	flagSet.DurationVar(&o.timeout, "timeout", time.Minute, "how long to wait for the task")
	flagSet.StringVar(&o.message, "message", "Hello, Teaclave!", "message for the echo task")
	flagSet.StringVar(&o.passwordFile, "password-file", "", "file holding the password to check")
	flagSet.StringVar(&o.exposedFile, "exposed-file", "", "file listing exposed passwords, one per line")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if flagSet.NArg() != 1 {
		return fmt.Errorf("usage: example_client [flags] echo|password-check")
	}

	config, err := tc.ReadConfiguration(o.config)
	if err != nil {
		return err
	}
	logger, err := tc.NewLogger(config.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if o.password == "" {
		if o.password, err = readPassword(); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()

	sm := tc.NewSessionManager(config, config.Dialer(nil), tc.WithLogger(logger))
	defer sm.Close()

	var result string
	switch flagSet.Arg(0) {
	case "echo":
		result, err = echo(ctx, sm, o)
	case "password-check":
		result, err = passwordCheck(ctx, sm, o)
	default:
		return fmt.Errorf("unknown task %q", flagSet.Arg(0))
	}
	if err != nil {
		return err
	}
	logger.Info("Task finished", zap.String("result", result))
	fmt.Println(result)
	return nil
}

func readPassword() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("no terminal available for the password prompt (use --password)")
	}
	fmt.Fprint(os.Stderr, "Password: ")
	password, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(password), nil
}

// login registers the user, ignoring an existing registration, and
// returns the user's frontend session.
func login(ctx context.Context, sm tc.SessionManager, userID, password string) (*tc.FrontendSession, error) {
	// fails if an earlier run registered the user; Login will tell
	_ = sm.Register(ctx, userID, password)
	return sm.Login(ctx, userID, password)
}

func echo(ctx context.Context, sm tc.SessionManager, o options) (string, error) {
	fs, err := login(ctx, sm, o.user, o.password)
	if err != nil {
		return "", err
	}

	fid, err := fs.RegisterFunction(ctx, tc.FunctionDescriptor{
		Name:        "builtin-echo",
		Description: "Native Echo Function",
		Executor:    tc.ExecutorBuiltin,
		Arguments:   []string{"message"},
	})
	if err != nil {
		return "", err
	}
	args := fmt.Sprintf("{%q: %q}", "message", o.message)
	taskID, err := fs.CreateTask(ctx, tc.CreateTaskRequest{
		FunctionID:        fid,
		FunctionArguments: args,
		Executor:          tc.ExecutorBuiltin,
	})
	if err != nil {
		return "", err
	}
	if err := fs.InvokeTask(ctx, taskID); err != nil {
		return "", err
	}
	return tc.WaitForResult(ctx, fs, taskID, tc.DefaultPollInterval)
}

// passwordCheck runs the two party password check. The user owns the
// password and a second user, <user>_peer, owns the exposed list.
func passwordCheck(ctx context.Context, sm tc.SessionManager, o options) (string, error) {
	if o.passwordFile == "" || o.exposedFile == "" {
		return "", fmt.Errorf("password-check needs --password-file and --exposed-file")
	}
	owner, err := login(ctx, sm, o.user, o.password)
	if err != nil {
		return "", err
	}
	peerID := o.user + "_peer"
	peer, err := login(ctx, sm, peerID, o.password)
	if err != nil {
		return "", err
	}

	fid, err := owner.RegisterFunction(ctx, tc.FunctionDescriptor{
		Name:        "builtin-password-check",
		Description: "Check whether a password is exposed.",
		Executor:    tc.ExecutorBuiltin,
		Public:      true,
		Inputs: []tc.Slot{
			{Name: "password", Description: "Client 0 data."},
			{Name: "exposed_passwords", Description: "Client 1 data."},
		},
	})
	if err != nil {
		return "", err
	}
	taskID, err := owner.CreateTask(ctx, tc.CreateTaskRequest{
		FunctionID: fid,
		Executor:   tc.ExecutorBuiltin,
		InputsOwnership: []tc.OwnershipMap{
			{DataName: "password", Owners: []string{o.user}},
			{DataName: "exposed_passwords", Owners: []string{peerID}},
		},
	})
	if err != nil {
		return "", err
	}

	inputs := []struct {
		fs   *tc.FrontendSession
		slot string
		path string
	}{
		{owner, "password", o.passwordFile},
		{peer, "exposed_passwords", o.exposedFile},
	}
	for _, in := range inputs {
		id, err := registerFile(ctx, in.fs, in.path)
		if err != nil {
			return "", err
		}
		if err := in.fs.AssignData(ctx, tc.DataAssignment{
			TaskID: taskID,
			Inputs: []tc.DataMap{{DataName: in.slot, DataID: id}},
		}); err != nil {
			return "", err
		}
	}
	// approvals are only accepted once every slot is assigned
	for _, in := range inputs {
		if err := in.fs.ApproveTask(ctx, taskID); err != nil {
			return "", err
		}
	}

	if err := owner.InvokeTask(ctx, taskID); err != nil {
		return "", err
	}
	return tc.WaitForResult(ctx, owner, taskID, tc.DefaultPollInterval)
}

// registerFile seals a local file under a fresh key and registers it
// inline as a data: URL.
func registerFile(ctx context.Context, fs *tc.FrontendSession, path string) (tc.DataID, error) {
	content, err := ioutil.ReadFile(path)
	if err != nil {
		return "", err
	}
	key := make([]byte, 16)
	iv := make([]byte, 12)
	if _, err := rand.Read(key); err != nil {
		return "", err
	}
	if _, err := rand.Read(iv); err != nil {
		return "", err
	}
	url, cmac, err := teaclavetest.SealFile(content, key, iv)
	if err != nil {
		return "", err
	}
	return fs.RegisterInputFile(ctx, tc.FileRegistration{
		URL:  url,
		CMAC: cmac,
		Crypto: tc.CryptoInfo{
			Schema: "aes-gcm-128",
			Key:    key,
			IV:     iv,
		},
	})
}
