package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/docopt/docopt-go"

	"github.com/coedit/coedit/coedit"
)

const CoeditCtlVersion = "0.0.1"

const DefaultApiUrl = "http://localhost:3001"
const DefaultChannelUrl = "ws://localhost:3001/channel"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

func main() {
	usage := fmt.Sprintf(
		`Coedit control.

The default urls are:
    api_url: %s
    channel_url: %s

Usage:
    coeditctl register --user_auth=<user_auth> [--password=<password>] [--api_url=<api_url>]
    coeditctl login --user_auth=<user_auth> [--password=<password>] [--api_url=<api_url>]
    coeditctl logout
    coeditctl list [--api_url=<api_url>]
    coeditctl create --title=<title> [--description=<description>]
        [--api_url=<api_url>] [--channel_url=<channel_url>]
    coeditctl remove <document_id>
        [--api_url=<api_url>] [--channel_url=<channel_url>]
    coeditctl edit <document_id> [--title=<title>] [--description=<description>]
        [--api_url=<api_url>] [--channel_url=<channel_url>]
    coeditctl watch <document_id>
        [--api_url=<api_url>] [--channel_url=<channel_url>]
    coeditctl comment <document_id> <text> [--line=<line>]
        [--api_url=<api_url>] [--channel_url=<channel_url>]
    coeditctl uncomment <document_id> <comment_id>
        [--api_url=<api_url>] [--channel_url=<channel_url>]

Options:
    -h --help                        Show this screen.
    --version                        Show version.
    --api_url=<api_url>
    --channel_url=<channel_url>
    --user_auth=<user_auth>
    --password=<password>
    --title=<title>
    --description=<description>
    --line=<line>`,
		DefaultApiUrl,
		DefaultChannelUrl,
	)

	opts, err := docopt.ParseArgs(usage, os.Args[1:], CoeditCtlVersion)
	if err != nil {
		panic(err)
	}

	if register_, _ := opts.Bool("register"); register_ {
		register(opts)
	} else if login_, _ := opts.Bool("login"); login_ {
		login(opts)
	} else if logout_, _ := opts.Bool("logout"); logout_ {
		logout(opts)
	} else if list_, _ := opts.Bool("list"); list_ {
		list(opts)
	} else if create_, _ := opts.Bool("create"); create_ {
		create(opts)
	} else if remove_, _ := opts.Bool("remove"); remove_ {
		remove(opts)
	} else if edit_, _ := opts.Bool("edit"); edit_ {
		edit(opts)
	} else if watch_, _ := opts.Bool("watch"); watch_ {
		watch(opts)
	} else if comment_, _ := opts.Bool("comment"); comment_ {
		comment(opts)
	} else if uncomment_, _ := opts.Bool("uncomment"); uncomment_ {
		uncomment(opts)
	}
}

func optString(opts docopt.Opts, name string, defaultValue string) string {
	if valueAny := opts[name]; valueAny != nil {
		return valueAny.(string)
	}
	return defaultValue
}

func credentialsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		panic(err)
	}
	dir := filepath.Join(home, ".coedit")
	if err := os.MkdirAll(dir, 0700); err != nil {
		panic(err)
	}
	return filepath.Join(dir, "credentials.db")
}

func newEngine(ctx context.Context, opts docopt.Opts, withChannel bool) (*coedit.Engine, *coedit.Channel) {
	apiUrl := optString(opts, "--api_url", DefaultApiUrl)
	channelUrl := optString(opts, "--channel_url", DefaultChannelUrl)

	credentials, err := coedit.NewCredentialStore(credentialsPath())
	if err != nil {
		panic(err)
	}
	sessions, err := coedit.NewDurableSessionStore(credentials, "default")
	if err != nil {
		panic(err)
	}

	api := coedit.NewApiWithContext(ctx, apiUrl)

	var channel *coedit.Channel
	var sender coedit.ChannelSender
	if withChannel {
		auth := &coedit.ChannelAuth{
			InstanceId: coedit.NewId(),
		}
		if session, ok := sessions.Current(); ok {
			auth.Token = session.Token
		}
		channel = coedit.NewChannelWithDefaults(ctx, channelUrl, auth)
		sender = channel
	} else {
		sender = &nopSender{}
	}

	engine := coedit.NewEngineWithDefaults(api, sender, sessions)
	if channel != nil {
		channel.AddReceiveCallback(engine.HandleEvent)
	}
	return engine, channel
}

type nopSender struct{}

func (self *nopSender) Send(event coedit.Event) bool {
	return false
}

func (self *nopSender) Join(documentId string) bool {
	return false
}

func (self *nopSender) Leave() {
}

func promptPassword(opts docopt.Opts) string {
	if passwordAny := opts["--password"]; passwordAny != nil {
		return passwordAny.(string)
	}
	fmt.Print("Enter password: ")
	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		panic(err)
	}
	fmt.Printf("\n")
	return string(passwordBytes)
}

func register(opts docopt.Opts) {
	ctx := context.Background()
	engine, _ := newEngine(ctx, opts, false)

	userAuth := opts["--user_auth"].(string)
	password := promptPassword(opts)

	if err := engine.Register(userAuth, password); err != nil {
		Err.Fatalf("register error = %s", err)
	}
	Out.Printf("Registered %s. Log in to continue.", userAuth)
}

func login(opts docopt.Opts) {
	ctx := context.Background()
	engine, _ := newEngine(ctx, opts, false)

	userAuth := opts["--user_auth"].(string)
	password := promptPassword(opts)

	if err := engine.Login(userAuth, password); err != nil {
		Err.Fatalf("login error = %s", err)
	}
	Out.Printf("Logged in as %s.", userAuth)
}

func logout(opts docopt.Opts) {
	ctx := context.Background()
	engine, _ := newEngine(ctx, opts, false)
	engine.Logout()
	Out.Printf("Logged out.")
}

func list(opts docopt.Opts) {
	ctx := context.Background()
	engine, _ := newEngine(ctx, opts, false)

	if err := engine.Reload(); err != nil {
		Err.Fatalf("list error = %s", err)
	}
	for _, document := range engine.Documents() {
		Out.Printf("%s  %s", document.Id, document.Title)
		if document.Description != "" {
			Out.Printf("    %s", strings.ReplaceAll(document.Description, "\n", "\n    "))
		}
		for _, comment := range engine.CommentsFor(document.Id) {
			Out.Printf("    [%d] %s  %s", comment.Line, comment.Text, comment.AuthorEmail)
		}
	}
}

func create(opts docopt.Opts) {
	ctx := context.Background()
	engine, _ := newEngine(ctx, opts, true)

	title := optString(opts, "--title", "")
	description := optString(opts, "--description", "")

	document, err := engine.CreateDocument(title, description)
	if err != nil {
		Err.Fatalf("create error = %s", err)
	}
	Out.Printf("%s", document.Id)
}

func remove(opts docopt.Opts) {
	ctx := context.Background()
	engine, _ := newEngine(ctx, opts, true)

	documentId := opts["<document_id>"].(string)
	if err := engine.DeleteDocument(documentId); err != nil {
		Err.Fatalf("remove error = %s", err)
	}
	Out.Printf("Removed %s.", documentId)
}

func edit(opts docopt.Opts) {
	ctx := context.Background()
	engine, _ := newEngine(ctx, opts, true)

	documentId := opts["<document_id>"].(string)
	if err := engine.Reload(); err != nil {
		Err.Fatalf("edit error = %s", err)
	}
	if err := engine.Open(documentId); err != nil {
		Err.Fatalf("edit error = %s", err)
	}
	if titleAny := opts["--title"]; titleAny != nil {
		if err := engine.EditTitle(titleAny.(string)); err != nil {
			Err.Fatalf("edit error = %s", err)
		}
	}
	if descriptionAny := opts["--description"]; descriptionAny != nil {
		if err := engine.EditDescription(descriptionAny.(string)); err != nil {
			Err.Fatalf("edit error = %s", err)
		}
	}
	if err := engine.Save(); err != nil {
		Err.Fatalf("save error = %s", err)
	}
	Out.Printf("Saved %s.", documentId)
}

func watch(opts docopt.Opts) {
	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine, _ := newEngine(cancelCtx, opts, true)

	documentId := opts["<document_id>"].(string)
	if err := engine.Reload(); err != nil {
		Err.Fatalf("watch error = %s", err)
	}
	if err := engine.Open(documentId); err != nil {
		Err.Fatalf("watch error = %s", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	for {
		notify := engine.Monitor().NotifyChannel()

		if _, ok := engine.OpenDocumentId(); !ok {
			Out.Printf("Document %s is gone.", documentId)
			return
		}
		Out.Printf("== %s", engine.WorkingTitle())
		Out.Printf("%s", engine.WorkingDescription())
		for _, comment := range engine.CommentsFor(documentId) {
			Out.Printf("[%d] %s  %s", comment.Line, comment.Text, comment.AuthorEmail)
		}

		select {
		case <-stop:
			engine.Cancel()
			return
		case <-notify:
		}
	}
}

func comment(opts docopt.Opts) {
	ctx := context.Background()
	engine, _ := newEngine(ctx, opts, true)

	documentId := opts["<document_id>"].(string)
	text := opts["<text>"].(string)

	line := 0
	if lineAny := opts["--line"]; lineAny != nil {
		line, _ = opts.Int("--line")
	}

	if err := engine.Reload(); err != nil {
		Err.Fatalf("comment error = %s", err)
	}
	if err := engine.Open(documentId); err != nil {
		Err.Fatalf("comment error = %s", err)
	}
	anchor, err := engine.BeginCommentDraft(line)
	if err != nil {
		Err.Fatalf("comment error = %s", err)
	}
	saved, err := engine.SubmitCommentDraft(text)
	if err != nil {
		Err.Fatalf("comment error = %s", err)
	}
	Out.Printf("%s at %d", saved.Id, anchor)
	engine.Cancel()
}

func uncomment(opts docopt.Opts) {
	ctx := context.Background()
	engine, _ := newEngine(ctx, opts, true)

	documentId := opts["<document_id>"].(string)
	commentId := opts["<comment_id>"].(string)

	if err := engine.Reload(); err != nil {
		Err.Fatalf("uncomment error = %s", err)
	}
	if err := engine.Open(documentId); err != nil {
		Err.Fatalf("uncomment error = %s", err)
	}
	if err := engine.DeleteComment(commentId); err != nil {
		Err.Fatalf("uncomment error = %s", err)
	}
	Out.Printf("Removed comment %s.", commentId)
	engine.Cancel()
}
