package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

// execIface defines the command surface the REPL needs to operate.
// The real App type satisfies this interface; tests can provide a lightweight stub.
type execIface interface {
	isLoggedIn() bool
	Register(ctx context.Context) error
	Login(ctx context.Context) error
	Verify(ctx context.Context, code string) error
	StepUp(ctx context.Context) error
	Cancel(ctx context.Context) error
	ForgetBinding(ctx context.Context) error
	Devices(ctx context.Context) error
	Trust(ctx context.Context, hash string) error
	Bind(ctx context.Context, hash string) error
	Unbind(ctx context.Context, hash string) error
	Logins(ctx context.Context) error
	Sessions(ctx context.Context) error
	Security(ctx context.Context, method string) error
	Profile(ctx context.Context) error
	SetProfile(ctx context.Context) error
	Avatar(ctx context.Context, path string) error
	Me(ctx context.Context) error
	ScoreTx(ctx context.Context, args []string) error
	ScoreLogin(ctx context.Context, args []string) error
	Export(ctx context.Context) error
	DeleteAccount(ctx context.Context) error
	Logout(ctx context.Context) error
}

const (
	helpLoggedOut = "Available commands: register, login, verify <code>, cancel, forgetbinding, help, exit"
	helpLoggedIn  = "Available commands: devices, trust <hash>, bind <hash>, unbind <hash>, logins, sessions, " +
		"security [method], profile, setprofile, avatar <file>, me, scoretx <amount> <currency> <category> [merchant], " +
		"scorelogin [ip] [device hash], " +
		"export, stepup, verify <code>, cancel, forgetbinding, deleteaccount, logout, help, exit"
)

// runREPL starts a read–eval–print loop for the trustkeeper CLI.
//
// It reads a line from reader, parses the first token as the command and
// dispatches to methods on a. Handler errors are printed and the loop goes
// on. The loop exits on EOF or when the user types "exit" or "quit".
func runREPL(ctx context.Context, a execIface, statusFn func() string, reader *bufio.Reader) {
	for {
		printlnFn(fmt.Sprintf("tk %s> ", statusFn()))
		line, err := reader.ReadString('\n')
		if err != nil && (!errors.Is(err, io.EOF) || line == "") {
			return
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		var cmdErr error
		switch cmd {
		case "help":
			if a.isLoggedIn() {
				printlnFn(helpLoggedIn)
			} else {
				printlnFn(helpLoggedOut)
			}

		case "register":
			cmdErr = a.Register(ctx)
		case "login":
			cmdErr = a.Login(ctx)
		case "verify":
			if len(args) != 1 {
				printlnFn("Usage: verify <code>")
				continue
			}
			cmdErr = a.Verify(ctx, args[0])
		case "stepup":
			cmdErr = a.StepUp(ctx)
		case "cancel":
			cmdErr = a.Cancel(ctx)
		case "forgetbinding":
			cmdErr = a.ForgetBinding(ctx)

		case "devices":
			cmdErr = a.Devices(ctx)
		case "trust", "bind", "unbind":
			if len(args) != 1 {
				printlnFn(fmt.Sprintf("Usage: %s <device hash>", cmd))
				continue
			}
			switch cmd {
			case "trust":
				cmdErr = a.Trust(ctx, args[0])
			case "bind":
				cmdErr = a.Bind(ctx, args[0])
			default:
				cmdErr = a.Unbind(ctx, args[0])
			}
		case "logins":
			cmdErr = a.Logins(ctx)
		case "sessions":
			cmdErr = a.Sessions(ctx)
		case "security":
			method := ""
			if len(args) > 0 {
				method = args[0]
			}
			cmdErr = a.Security(ctx, method)

		case "profile":
			cmdErr = a.Profile(ctx)
		case "setprofile":
			cmdErr = a.SetProfile(ctx)
		case "avatar":
			if len(args) != 1 {
				printlnFn("Usage: avatar <file>")
				continue
			}
			cmdErr = a.Avatar(ctx, args[0])
		case "me":
			cmdErr = a.Me(ctx)
		case "scoretx":
			cmdErr = a.ScoreTx(ctx, args)
		case "scorelogin":
			cmdErr = a.ScoreLogin(ctx, args)
		case "export":
			cmdErr = a.Export(ctx)
		case "deleteaccount":
			cmdErr = a.DeleteAccount(ctx)
		case "logout":
			cmdErr = a.Logout(ctx)

		case "exit", "quit":
			printlnFn("Bye!")
			return

		default:
			printlnFn("Unknown command:", cmd)
		}

		if cmdErr != nil {
			printlnFn("Error:", describeError(cmdErr))
		}
		if errors.Is(err, io.EOF) {
			return
		}
	}
}
