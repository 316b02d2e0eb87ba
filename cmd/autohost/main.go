package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/udisondev/autohost/internal/agent"
	"github.com/udisondev/autohost/internal/archive"
	"github.com/udisondev/autohost/internal/config"
	"github.com/udisondev/autohost/internal/db"
	"github.com/udisondev/autohost/internal/exitcode"
	"github.com/udisondev/autohost/internal/game"
	"github.com/udisondev/autohost/internal/lobby"
	"github.com/udisondev/autohost/internal/lock"
	"github.com/udisondev/autohost/internal/prefs"
	"github.com/udisondev/autohost/internal/quit"
	"github.com/udisondev/autohost/internal/users"
)

func main() {
	var (
		flagDoc        bool
		flagCertTrust  string
		flagCertRevoke string
		flagCertList   string
	)

	root := &cobra.Command{
		Use:           "autohost <configFile> [name=value ...]",
		Short:         "Autonomous battle hosting agent for the lobby server",
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args[0], args[1:], options{
				doc:        flagDoc,
				certTrust:  flagCertTrust,
				certSet:    cmd.Flags().Changed("tls-cert-trust"),
				certRevoke: flagCertRevoke,
				certList:   flagCertList,
				listSet:    cmd.Flags().Changed("tls-cert-list"),
			})
		},
	}
	root.Flags().BoolVar(&flagDoc, "doc", false, "print the settings documentation and exit")
	root.Flags().StringVar(&flagCertTrust, "tls-cert-trust", "", "trust a certificate (host:hash or hash); without a value, trust the next presented certificate")
	root.Flags().Lookup("tls-cert-trust").NoOptDefVal = "-"
	root.Flags().StringVar(&flagCertRevoke, "tls-cert-revoke", "", "revoke a trusted certificate (host:hash or hash)")
	root.Flags().StringVar(&flagCertList, "tls-cert-list", "", "list trusted certificates, optionally for one host")
	root.Flags().Lookup("tls-cert-list").NoOptDefVal = "-"

	if err := root.Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			if ee.msg != "" {
				fmt.Fprintln(os.Stderr, ee.msg)
			}
			os.Exit(ee.code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitcode.Usage)
	}
}

type options struct {
	doc        bool
	certTrust  string
	certSet    bool
	certRevoke string
	certList   string
	listSet    bool
}

// exitError carries a process exit code through cobra.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

func fail(code int, format string, args ...any) error {
	return &exitError{code: code, msg: fmt.Sprintf(format, args...)}
}

func run(configPath string, macros []string, opts options) error {
	cfg, err := config.Load(configPath, macros)
	if err != nil {
		return fail(exitcode.Config, "%v", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	})))

	settings := buildSettings(cfg)
	if opts.doc {
		fmt.Print(settings.Doc())
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		cancel()
	}()

	database, err := db.New(ctx, cfg.Database.DSN())
	if err != nil {
		return fail(exitcode.Dependency, "%v", err)
	}
	defer database.Close()
	if err := db.RunMigrations(ctx, cfg.Database.DSN()); err != nil {
		return fail(exitcode.Dependency, "%v", err)
	}

	trust := db.NewTrustRepository(database.Pool())
	if done, err := maintainTrustStore(ctx, trust, cfg.Lobby.Host, opts); done || err != nil {
		if err != nil {
			return fail(exitcode.InputData, "%v", err)
		}
		return nil
	}

	instance := lock.NewInstance(cfg.InstanceDir)
	if err := instance.Acquire(); err != nil {
		if errors.Is(err, lock.ErrConflict) {
			return fail(exitcode.Conflict, "%v", err)
		}
		return fail(exitcode.System, "%v", err)
	}
	defer instance.Release()

	// At most one instance sharing an installation directory performs the
	// periodic update runs; the others just skip them.
	autoUpdateLock := lock.New(filepath.Join(cfg.InstanceDir, "autoUpdate.lock"))
	if ok, err := autoUpdateLock.TryAcquire(); err == nil && ok {
		defer autoUpdateLock.Release()
	} else {
		slog.Info("auto-update handled by another instance")
	}

	accountDays, ipDays, err := cfg.RetentionDays()
	if err != nil {
		return fail(exitcode.Config, "%v", err)
	}
	accounts := db.NewAccountRepository(database.Pool(), accountDays, ipDays)
	prefsRepo := db.NewPrefsRepository(database.Pool())
	bansRepo := db.NewBanRepository(database.Pool())

	banList := &users.BanList{}
	if err := loadBans(ctx, bansRepo, banList); err != nil {
		slog.Warn("loading persisted bans", "err", err)
	}

	oneShotTrust := opts.certSet && opts.certTrust == "-"
	conn := lobby.NewConn(cfg.Lobby, trust, oneShotTrust)

	unitsyncLock := lock.New(filepath.Join(cfg.InstanceDir, "unitsync.lock"))
	logFile := cfg.Engine.LogFile
	if logFile == "" {
		logFile = filepath.Join(cfg.InstanceDir, "engine.log")
	}
	launcher := game.NewLauncher(cfg.Engine.Binary, cfg.InstanceDir, logFile, unitsyncLock)
	ghosts := db.NewGhostMapRepository(database.Pool())
	loader := archive.NewLoader(cfg.Engine.DataDirs, unitsyncLock, ghosts)

	a := agent.New(agent.Deps{
		Config:   cfg,
		Settings: settings,
		Conn:     conn,
		Users:    users.NewStore(accounts),
		Prefs:    prefs.New(prefsRepo, nil),
		Flood:    buildFloodGuard(cfg),
		Bans:     banList,
		BanStore: banStoreAdapter{repo: bansRepo},
		Launcher: launcher,
		Loader:   loader,
	})

	code, err := a.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("agent stopped", "err", err)
		if code == exitcode.OK {
			code = exitcode.Failure
		}
	}

	if a.Intent().Action == quit.ActionRestart && code == exitcode.OK {
		return reexec(configPath, cfg.Macros)
	}
	if code != exitcode.OK {
		return fail(code, "")
	}
	return nil
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// buildSettings declares the built-in settings and applies the presets
// from the configuration.
func buildSettings(cfg *config.Agent) *config.Settings {
	s := config.NewSettings()

	declare := func(scope config.Scope, name string, allowed []string) {
		// Built-in declarations never fail: the allowed lists are static.
		if err := s.Declare(scope, name, allowed, false); err != nil {
			panic(err)
		}
	}

	declare(config.ScopeGlobal, "voteTime", []string{"40", "10-300"})
	declare(config.ScopeGlobal, "awayVoteDelay", []string{"20", "0-300", "~\\d+%"})
	declare(config.ScopeGlobal, "minVoteParticipation", []string{"0", "0-100", "~\\d+;\\d+"})
	declare(config.ScopeGlobal, "majorityVoteMargin", []string{"0", "0-50"})
	declare(config.ScopeGlobal, "voteRingDelay", []string{"20", "0-300"})
	declare(config.ScopeGlobal, "voteNotifyDelay", []string{"30", "0-300"})
	declare(config.ScopeGlobal, "minRingDelay", []string{"60", "0-600"})
	declare(config.ScopeGlobal, "balRandSeed", []string{"1", "0-1000000"})

	declare(config.ScopeHostingPreset, "battleName", []string{"~.*"})
	declare(config.ScopeHostingPreset, "password", []string{"~.*"})
	declare(config.ScopeHostingPreset, "maxPlayers", []string{"16", "2-251"})
	declare(config.ScopeHostingPreset, "modName", []string{"~.*"})

	declare(config.ScopeBattlePreset, "map", []string{"~.*"})
	declare(config.ScopeBattlePreset, "nbTeams", []string{"2", "2-16"})
	declare(config.ScopeBattlePreset, "teamSize", []string{"8", "1-16"})
	declare(config.ScopeBattlePreset, "nbPlayerById", []string{"1", "1-16"})
	declare(config.ScopeBattlePreset, "minTeamSize", []string{"1", "1-16"})
	declare(config.ScopeBattlePreset, "minPlayers", []string{"2", "1-251"})
	declare(config.ScopeBattlePreset, "maxSpecs", []string{"-1", "-1-250"})
	declare(config.ScopeBattlePreset, "specImmunityLevel", []string{"100", "0-200"})
	declare(config.ScopeBattlePreset, "maxBots", []string{"-1", "-1-100"})
	declare(config.ScopeBattlePreset, "maxLocalBots", []string{"-1", "-1-100"})
	declare(config.ScopeBattlePreset, "maxRemoteBots", []string{"-1", "-1-100"})
	declare(config.ScopeBattlePreset, "autoSpecExtraPlayers", []string{"off", "on"})
	declare(config.ScopeBattlePreset, "autoLock", []string{"off", "on", "advanced", "whenEmpty", "whenTeamSizeEven"})
	declare(config.ScopeBattlePreset, "autoLockClients", []string{"0", "0-251"})
	declare(config.ScopeBattlePreset, "autoLockRunningBattle", []string{"off", "on"})
	declare(config.ScopeBattlePreset, "autoStart", []string{"off", "on", "advanced"})
	declare(config.ScopeBattlePreset, "autoBalance", []string{"off", "on", "advanced"})
	declare(config.ScopeBattlePreset, "autoFixColors", []string{"off", "on"})
	declare(config.ScopeBattlePreset, "balanceMode", []string{"skill", "random", "clan", "clan;skill"})
	declare(config.ScopeBattlePreset, "clanMode", []string{"", "~.*"})
	declare(config.ScopeBattlePreset, "idShareMode", []string{"auto", "off", "all", "manual", "clan"})
	declare(config.ScopeBattlePreset, "botsRank", []string{"3", "0-7"})
	declare(config.ScopeBattlePreset, "colorSensitivity", []string{"20000", "-1-1000000"})
	declare(config.ScopeBattlePreset, "endGameAwards", []string{"0", "0-3"})

	if p, ok := cfg.Presets[cfg.DefaultPreset]; ok {
		if err := s.ApplyPreset(config.ScopePreset, p); err != nil {
			slog.Warn("applying default preset", "preset", cfg.DefaultPreset, "err", err)
		}
	}
	return s
}

func buildFloodGuard(cfg *config.Agent) *prefs.FloodGuard {
	specs := make(map[prefs.FloodKind]prefs.FloodSpec)
	for kind, raw := range map[prefs.FloodKind]string{
		prefs.FloodMsg:     cfg.Flood.Msg,
		prefs.FloodStatus:  cfg.Flood.Status,
		prefs.FloodKick:    cfg.Flood.Kicks,
		prefs.FloodCmd:     cfg.Flood.Cmd,
		prefs.FloodJSONRPC: cfg.Flood.JSONRPC,
	} {
		count, window, minutes, err := config.ParseFloodSpec(raw)
		if err != nil {
			slog.Warn("invalid flood spec, counter disabled", "spec", raw, "err", err)
			continue
		}
		specs[kind] = prefs.FloodSpec{
			Count:    count,
			Window:   secondsDuration(window),
			Sanction: minutesDuration(minutes),
		}
	}
	return prefs.NewFloodGuard(specs)
}

func secondsDuration(n int) time.Duration { return time.Duration(n) * time.Second }
func minutesDuration(n int) time.Duration { return time.Duration(n) * time.Minute }

func loadBans(ctx context.Context, repo *db.BanRepository, list *users.BanList) error {
	rows, err := repo.All(ctx)
	if err != nil {
		return err
	}
	for _, row := range rows {
		b, err := users.DecodeBan(row.FilterJSON, row.ActionJSON)
		if err != nil {
			slog.Warn("skipping malformed persisted ban", "hash", row.Hash, "err", err)
			continue
		}
		list.AddDynamic(b)
	}
	return nil
}

// banStoreAdapter persists dynamic ban mutations from the agent.
type banStoreAdapter struct {
	repo *db.BanRepository
}

func (s banStoreAdapter) Save(ctx context.Context, b *users.Ban) error {
	filterJSON, actionJSON, err := users.EncodeBan(b)
	if err != nil {
		return err
	}
	return s.repo.Upsert(ctx, db.BanRow{Hash: b.Hash(), FilterJSON: filterJSON, ActionJSON: actionJSON})
}

func (s banStoreAdapter) Remove(ctx context.Context, hash string) (bool, error) {
	return s.repo.Delete(ctx, hash)
}

// maintainTrustStore handles the certificate maintenance flags; done is
// true when the process should exit without starting the agent.
func maintainTrustStore(ctx context.Context, trust *db.TrustRepository, defaultHost string, opts options) (bool, error) {
	if opts.certSet && opts.certTrust != "-" {
		host, hash, err := splitHostHash(opts.certTrust, defaultHost)
		if err != nil {
			return true, err
		}
		if err := trust.Add(ctx, host, hash); err != nil {
			return true, err
		}
		fmt.Printf("Trusted %s for %s\n", hash, host)
		return true, nil
	}
	if opts.certRevoke != "" {
		host, hash, err := splitHostHash(opts.certRevoke, defaultHost)
		if err != nil {
			return true, err
		}
		found, err := trust.Revoke(ctx, host, hash)
		if err != nil {
			return true, err
		}
		if !found {
			return true, fmt.Errorf("certificate %s not trusted for %s", hash, host)
		}
		fmt.Printf("Revoked %s for %s\n", hash, host)
		return true, nil
	}
	if opts.listSet {
		host := ""
		if opts.certList != "-" {
			host = opts.certList
		}
		all, err := trust.List(ctx, host)
		if err != nil {
			return true, err
		}
		for h, hashes := range all {
			for _, fp := range hashes {
				fmt.Printf("%s %s\n", h, fp)
			}
		}
		return true, nil
	}
	return false, nil
}

// splitHostHash parses "host:hash" or a bare hash (using the configured
// lobby host).
func splitHostHash(s, defaultHost string) (string, string, error) {
	host, hash := defaultHost, s
	if i := strings.LastIndex(s, ":"); i >= 0 {
		host, hash = s[:i], s[i+1:]
	}
	hash = strings.ToLower(hash)
	if len(hash) != 64 || strings.Trim(hash, "0123456789abcdef") != "" {
		return "", "", fmt.Errorf("invalid certificate hash %q: want 64 hex chars", hash)
	}
	if host == "" {
		return "", "", fmt.Errorf("no host for certificate %s", hash)
	}
	return host, hash, nil
}

// reexec restarts the process for a requested restart, preserving the
// macro arguments.
func reexec(configPath string, macros []string) error {
	self, err := os.Executable()
	if err != nil {
		return fail(exitcode.System, "locating executable: %v", err)
	}
	args := append([]string{configPath}, macros...)
	cmd := exec.Command(self, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin
	if err := cmd.Start(); err != nil {
		return fail(exitcode.System, "restarting: %v", err)
	}
	slog.Info("restarted", "pid", cmd.Process.Pid)
	return nil
}
