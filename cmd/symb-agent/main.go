// Command symb-agent is the line-delimited-JSON RPC front-end: it wires
// on-disk configuration into an agentcore/session.AgentSession and drives
// it over stdin/stdout via internal/rpc.Server, generalizing
// cmd/symb/main.go's config-load-then-launch sequence off the bubbletea
// TUI onto a pipe a different process can script.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	agentsession "github.com/xonecas/symb/internal/agentcore/session"
	"github.com/xonecas/symb/internal/config"
	"github.com/xonecas/symb/internal/rpc"
	sessionstore "github.com/xonecas/symb/internal/session"
)

// exit codes per this front-end's CLI contract: 0 normal, 1 fatal init
// error, 130 aborted by signal during interactive operation.
const (
	exitOK          = 0
	exitConfigError = 1
	exitSignal      = 130
)

func main() {
	os.Exit(run())
}

func run() int {
	if err := setupFileLogging(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to set up logging: %v\n", err)
	}

	flagSession := flag.String("s", "", "resume a session by ID")
	flagList := flag.Bool("l", false, "list sessions and exit")
	flagContinue := flag.Bool("c", false, "continue the most recent session")
	flag.StringVar(flagSession, "session", "", "resume a session by ID")
	flag.BoolVar(flagList, "list", false, "list sessions and exit")
	flag.BoolVar(flagContinue, "continue", false, "continue the most recent session")
	flag.Parse()

	agentDir, err := config.EnsureAgentDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: resolve agent dir: %v\n", err)
		return exitConfigError
	}

	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: get working directory: %v\n", err)
		return exitConfigError
	}

	if *flagList {
		listSessions(agentDir, cwd)
		return exitOK
	}

	cfg, creds, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitConfigError
	}

	mode := agentsession.ModeCreate
	openPath := ""
	switch {
	case *flagSession != "":
		openPath, err = sessionPathByID(agentDir, cwd, *flagSession)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return exitConfigError
		}
		mode = agentsession.ModeOpen
	case *flagContinue:
		mode = agentsession.ModeContinue
	}

	opts, err := config.BuildSessionOptions(cfg, creds, config.SessionRequest{
		AgentDir: agentDir,
		CWD:      cwd,
		Mode:     mode,
		OpenPath: openPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: build session options: %v\n", err)
		return exitConfigError
	}

	as, err := agentsession.New(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: open session: %v\n", err)
		return exitConfigError
	}
	defer as.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := rpc.NewServer(as, os.Stdin, os.Stdout)
	if err := server.Run(ctx); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitConfigError
	}
	server.Wait()

	if ctx.Err() != nil {
		return exitSignal
	}
	return exitOK
}

func loadConfig() (*config.Config, *config.Credentials, error) {
	configPath := filepath.Join(".", "config.toml")
	if dataDir, err := config.DataDir(); err == nil {
		if candidate := filepath.Join(dataDir, "config.toml"); fileExists(candidate) {
			configPath = candidate
		}
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	creds, err := config.LoadCredentials()
	if err != nil {
		return nil, nil, fmt.Errorf("load credentials: %w", err)
	}
	return cfg, creds, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func sessionPathByID(agentDir, cwd, id string) (string, error) {
	infos, err := sessionstore.List(agentDir, cwd, "")
	if err != nil {
		return "", fmt.Errorf("list sessions: %w", err)
	}
	for _, info := range infos {
		if info.ID == id {
			return info.Path, nil
		}
	}
	return "", fmt.Errorf("session %q not found", id)
}

func listSessions(agentDir, cwd string) {
	infos, err := sessionstore.List(agentDir, cwd, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: list sessions: %v\n", err)
		return
	}
	if len(infos) == 0 {
		fmt.Println("no sessions found")
		return
	}
	for _, info := range infos {
		preview := strings.ReplaceAll(info.FirstMessage, "\n", " ")
		if len(preview) > 60 {
			preview = preview[:60]
		}
		fmt.Printf("%s  %s  %s\n", info.ID, info.Modified.Format("2006-01-02 15:04"), preview)
	}
}

func setupFileLogging() error {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	dataDir, err := config.DataDir()
	if err != nil {
		return err
	}
	logDir := filepath.Join(dataDir, "logs")
	if err := os.MkdirAll(logDir, 0750); err != nil {
		return err
	}
	file, err := os.OpenFile(filepath.Join(logDir, "symb-agent.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	log.Logger = log.Output(file)
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	return nil
}
