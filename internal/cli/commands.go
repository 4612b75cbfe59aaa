package cli

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/respawn-arena/arena_auth/internal/auth"
	"github.com/respawn-arena/arena_auth/internal/autherr"
	"github.com/respawn-arena/arena_auth/internal/identity"
	"github.com/respawn-arena/arena_auth/internal/redirect"
)

// ErrUsage is returned for an unknown subcommand or bad flags.
var ErrUsage = errors.New("usage error")

const usage = `usage: arena-auth [flags] <command> [command flags]

commands:
  status        show the restored session
  login         sign in with email or phone and password
  admin-login   sign in as staff
  signup        create an account
  otp           sign in with a one-time code sent to a phone
  google        sign in with an identity-provider credential
  logout        end the session
`

// Run restores the session and executes one subcommand.
func (a *App) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		fmt.Fprint(a.out, usage)
		return ErrUsage
	}
	cmd, rest := args[0], args[1:]

	st := a.orch.Initialize(ctx)
	if a.opts.Next != "" {
		d, err := a.guard.Check(st, a.opts.Next)
		if err != nil {
			return err
		}
		if d.Action == redirect.Allow && cmd == "status" {
			fmt.Fprintf(a.out, "route %s: open\n", a.opts.Next)
		} else if d.Action == redirect.Redirect {
			fmt.Fprintf(a.out, "route %s: redirected to %s\n", a.opts.Next, d.Target)
		}
	}

	switch cmd {
	case "status":
		a.printState(a.orch.State())
		return nil
	case "login":
		return a.login(ctx, rest, false)
	case "admin-login":
		return a.login(ctx, rest, true)
	case "signup":
		return a.signup(ctx, rest)
	case "otp":
		return a.otpLogin(ctx, rest)
	case "google":
		return a.google(ctx, rest)
	case "logout":
		if err := a.orch.Logout(ctx); err != nil {
			return err
		}
		fmt.Fprintln(a.out, "signed out")
		return nil
	}
	fmt.Fprint(a.out, usage)
	return fmt.Errorf("%w: unknown command %q", ErrUsage, cmd)
}

func (a *App) newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.out)
	return fs
}

func (a *App) parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}
	return nil
}

func (a *App) printState(st identity.AuthState) {
	switch {
	case st.IsLoading:
		fmt.Fprintln(a.out, "session: loading")
	case !st.IsAuthenticated:
		fmt.Fprintln(a.out, "session: signed out")
	default:
		contact := st.User.Email
		if contact == "" {
			contact = st.User.Phone
		}
		fmt.Fprintf(a.out, "session: %s <%s> (%s)\n", st.User.Name, contact, st.Role)
	}
}

// authenticate commits a strategy and reports where the user lands.
func (a *App) authenticate(ctx context.Context, s auth.Strategy) error {
	st, err := a.orch.Authenticate(ctx, s)
	if err != nil {
		fmt.Fprintf(a.out, "error: %s\n", autherr.UserMessage(err))
		return err
	}
	a.printState(st)
	fmt.Fprintf(a.out, "continue to %s\n", a.resolver.Resolve(st.Role))
	return nil
}

func (a *App) login(ctx context.Context, args []string, admin bool) error {
	name := "login"
	if admin {
		name = "admin-login"
	}
	fs := a.newFlagSet(name)
	id := fs.String("identifier", "", "Email or phone number")
	username := fs.String("username", "", "Staff username")
	password := fs.String("password", "", "Password (read from input when omitted)")
	if err := a.parse(fs, args); err != nil {
		return err
	}
	pw, err := a.secret(*password, "password")
	if err != nil {
		return err
	}
	if admin {
		return a.authenticate(ctx, auth.AdminLogin(a.credentials, *username, pw))
	}
	return a.authenticate(ctx, auth.PasswordLogin(a.credentials, *id, pw))
}

func (a *App) signup(ctx context.Context, args []string) error {
	fs := a.newFlagSet("signup")
	var p identity.SignupProfile
	fs.StringVar(&p.Name, "name", "", "Display name")
	fs.StringVar(&p.Email, "email", "", "Email address")
	fs.StringVar(&p.Password, "password", "", "Password (read from input when omitted)")
	fs.StringVar(&p.Confirm, "confirm", "", "Password confirmation (defaults to the password)")
	fs.StringVar(&p.Phone, "phone", "", "Phone number, 10 digits")
	if err := a.parse(fs, args); err != nil {
		return err
	}
	var err error
	if p.Password, err = a.secret(p.Password, "password"); err != nil {
		return err
	}
	if p.Confirm == "" {
		p.Confirm = p.Password
	}
	return a.authenticate(ctx, auth.Signup(a.credentials, p))
}

func (a *App) google(ctx context.Context, args []string) error {
	fs := a.newFlagSet("google")
	cred := fs.String("credential", "", "Identity-provider credential")
	if err := a.parse(fs, args); err != nil {
		return err
	}
	c, err := a.secret(*cred, "credential")
	if err != nil {
		return err
	}
	return a.authenticate(ctx, auth.Federated(a.federated, c))
}

// otpLogin requests a code and then reads input lines: a code is verified,
// "resend" asks for a new code once the old one expired, "quit" gives up.
func (a *App) otpLogin(ctx context.Context, args []string) error {
	fs := a.newFlagSet("otp")
	phone := fs.String("phone", "", "Phone number, 10 digits")
	name := fs.String("name", "", "Display name for a new account")
	if err := a.parse(fs, args); err != nil {
		return err
	}
	if err := a.otp.Request(ctx, *phone); err != nil {
		fmt.Fprintf(a.out, "error: %s\n", autherr.UserMessage(err))
		return err
	}

	var watchers sync.WaitGroup
	ctx, stop := context.WithCancel(ctx)
	defer func() {
		stop()
		watchers.Wait()
	}()
	a.watchCountdown(ctx, &watchers)

	scanner := bufio.NewScanner(a.in)
	fmt.Fprintf(a.out, "code sent to %s, enter it below\n", *phone)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "quit":
			a.otp.Restart()
			return context.Canceled
		case "resend":
			if err := a.otp.Resend(ctx); err != nil {
				fmt.Fprintf(a.out, "error: %s\n", autherr.UserMessage(err))
				continue
			}
			a.watchCountdown(ctx, &watchers)
			fmt.Fprintln(a.out, "new code sent")
			continue
		}
		err := a.authenticate(ctx, auth.OTPVerify(a.otp, line, *name))
		if err == nil {
			return nil
		}
		if errors.Is(err, autherr.ErrOtpExpired) {
			fmt.Fprintln(a.out, `type "resend" for a new code`)
		}
		if errors.Is(err, autherr.ErrOtpMismatch) {
			if ch, ok := a.otp.Challenge(); ok {
				fmt.Fprintf(a.out, "%d attempts left\n", ch.AttemptsRemaining)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return io.ErrUnexpectedEOF
}

// watchCountdown prints the remaining time at coarse steps until the code
// expires or is used.
func (a *App) watchCountdown(ctx context.Context, wg *sync.WaitGroup) {
	ch := a.otp.Countdown(ctx, 250*time.Millisecond)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for secs := range ch {
			switch {
			case secs == 0:
				fmt.Fprintln(a.out, "code expired")
			case secs%60 == 0 || secs == 30 || secs == 10:
				fmt.Fprintf(a.out, "code expires in %ds\n", secs)
			}
		}
	}()
}

// secret returns v, or reads one line from input when v is empty.
func (a *App) secret(v, what string) (string, error) {
	if v != "" {
		return v, nil
	}
	fmt.Fprintf(a.out, "%s: ", what)
	line, err := bufio.NewReader(a.in).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read %s: %w", what, err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
