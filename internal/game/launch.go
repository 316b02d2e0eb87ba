package game

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/udisondev/autohost/internal/battle"
	"github.com/udisondev/autohost/internal/lock"
)

// BattleState is the pre-flight readiness code.
type BattleState int

const (
	StateInconsistentTeams BattleState = -5 // duplicate id across allyteams
	StateTooManyMembers    BattleState = -4 // engine member cap exceeded
	StateUnsyncedPlayer    BattleState = -3
	StatePlayerInGame      BattleState = -2
	StateUnreadyPlayer     BattleState = -1
	StateUnbalanced        BattleState = 0
	StateReady             BattleState = 1
)

// engineMemberCap is the hard engine limit on room members.
const engineMemberCap = 251

// PreFlight computes the readiness of the room for launch.
func PreFlight(r *battle.Room, minPlayers int, inGame func(name string) bool) BattleState {
	if !r.TeamIDConsistent() {
		return StateInconsistentTeams
	}
	if r.MemberCount() > engineMemberCap {
		return StateTooManyMembers
	}
	players := r.Players()
	for _, m := range players {
		if !m.Status.Sync {
			return StateUnsyncedPlayer
		}
	}
	for _, m := range players {
		if inGame != nil && inGame(m.User.Name) {
			return StatePlayerInGame
		}
	}
	if r.StartPosType() == 2 {
		for _, m := range players {
			if !m.Status.Ready {
				return StateUnreadyPlayer
			}
		}
	}
	if len(players) < minPlayers {
		return StateUnbalanced
	}
	counts := map[int]int{}
	for _, m := range players {
		counts[m.Status.Team]++
	}
	size := -1
	for _, n := range counts {
		if size == -1 {
			size = n
		} else if n != size {
			return StateUnbalanced
		}
	}
	return StateReady
}

// WriteStartScript serializes the engine start script for a snapshot.
func WriteStartScript(w io.Writer, s *Snapshot, scriptTags map[string]string, hostIP string, hostPort, autoHostPort int) error {
	var b strings.Builder
	b.WriteString("[GAME]\n{\n")
	fmt.Fprintf(&b, "\tMapName=%s;\n", s.Map)
	fmt.Fprintf(&b, "\tGameType=%s;\n", s.Mod)
	fmt.Fprintf(&b, "\tHostIP=%s;\n", hostIP)
	fmt.Fprintf(&b, "\tHostPort=%d;\n", hostPort)
	fmt.Fprintf(&b, "\tAutohostPort=%d;\n", autoHostPort)
	fmt.Fprintf(&b, "\tNumPlayers=%d;\n", len(s.Players))
	fmt.Fprintf(&b, "\tNumTeams=%d;\n", len(s.TeamsMap))
	fmt.Fprintf(&b, "\tNumAllyTeams=%d;\n", len(s.AllyTeamsMap))

	// Scoped tags: "game/x/y=v" nests as sections under [GAME].
	keys := make([]string, 0, len(scriptTags))
	for k := range scriptTags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	sections := make(map[string][]string)
	for _, k := range keys {
		path := strings.TrimPrefix(k, "game/")
		if i := strings.LastIndex(path, "/"); i >= 0 {
			sections[path[:i]] = append(sections[path[:i]], fmt.Sprintf("%s=%s;", path[i+1:], scriptTags[k]))
		} else {
			fmt.Fprintf(&b, "\t%s=%s;\n", path, scriptTags[k])
		}
	}
	sectionNames := make([]string, 0, len(sections))
	for n := range sections {
		sectionNames = append(sectionNames, n)
	}
	sort.Strings(sectionNames)
	for _, n := range sectionNames {
		fmt.Fprintf(&b, "\t[%s]\n\t{\n", strings.ToUpper(strings.ReplaceAll(n, "/", "_")))
		for _, line := range sections[n] {
			fmt.Fprintf(&b, "\t\t%s\n", line)
		}
		b.WriteString("\t}\n")
	}

	for i, p := range s.Players {
		fmt.Fprintf(&b, "\t[PLAYER%d]\n\t{\n", i)
		fmt.Fprintf(&b, "\t\tName=%s;\n", p.Name)
		if p.ScriptPassword != "" {
			fmt.Fprintf(&b, "\t\tPassword=%s;\n", p.ScriptPassword)
		}
		if p.Spectator {
			b.WriteString("\t\tSpectator=1;\n")
		} else {
			fmt.Fprintf(&b, "\t\tTeam=%d;\n", p.Team)
		}
		fmt.Fprintf(&b, "\t\tRank=%d;\n", p.Rank)
		b.WriteString("\t}\n")
	}
	for i, bot := range s.Bots {
		fmt.Fprintf(&b, "\t[AI%d]\n\t{\n", i)
		fmt.Fprintf(&b, "\t\tName=%s;\n", bot.Name)
		fmt.Fprintf(&b, "\t\tShortName=%s;\n", bot.AISpec)
		fmt.Fprintf(&b, "\t\tHost=%d;\n", hostPlayerIndex(s, bot.Owner))
		fmt.Fprintf(&b, "\t\tTeam=%d;\n", bot.Team)
		b.WriteString("\t}\n")
	}

	teams := make([]int, 0, len(s.TeamsMap))
	for t := range s.TeamsMap {
		teams = append(teams, t)
	}
	sort.Ints(teams)
	for _, t := range teams {
		fmt.Fprintf(&b, "\t[TEAM%d]\n\t{\n", t)
		fmt.Fprintf(&b, "\t\tAllyTeam=%d;\n", allyOfTeam(s, t))
		fmt.Fprintf(&b, "\t\tTeamLeader=%d;\n", leaderOfTeam(s, t))
		b.WriteString("\t}\n")
	}
	allies := make([]int, 0, len(s.AllyTeamsMap))
	for a := range s.AllyTeamsMap {
		allies = append(allies, a)
	}
	sort.Ints(allies)
	for _, a := range allies {
		fmt.Fprintf(&b, "\t[ALLYTEAM%d]\n\t{\n\t\tNumAllies=0;\n\t}\n", a)
	}
	b.WriteString("}\n")

	if _, err := io.WriteString(w, b.String()); err != nil {
		return fmt.Errorf("writing start script: %w", err)
	}
	return nil
}

func hostPlayerIndex(s *Snapshot, owner string) int {
	for i, p := range s.Players {
		if p.Name == owner {
			return i
		}
	}
	return 0
}

func allyOfTeam(s *Snapshot, team int) int {
	for _, p := range s.Players {
		if !p.Spectator && p.Team == team {
			return p.AllyTeam
		}
	}
	for _, b := range s.Bots {
		if b.Team == team {
			return b.AllyTeam
		}
	}
	return 0
}

func leaderOfTeam(s *Snapshot, team int) int {
	for i, p := range s.Players {
		if !p.Spectator && p.Team == team {
			return i
		}
	}
	for _, b := range s.Bots {
		if b.Team == team {
			return hostPlayerIndex(s, b.Owner)
		}
	}
	return 0
}

// LockWaitTimeout bounds the blocking archive-cache lock request before a
// launch is aborted.
const LockWaitTimeout = 30 * time.Second

// Launcher spawns and tracks the engine process.
type Launcher struct {
	binary      string
	instanceDir string
	logFile     string
	archiveLock *lock.FileLock

	proc *exec.Cmd
}

// NewLauncher creates a launcher sharing the process-global archive-cache
// lock.
func NewLauncher(binary, instanceDir, logFile string, archiveLock *lock.FileLock) *Launcher {
	return &Launcher{binary: binary, instanceDir: instanceDir, logFile: logFile, archiveLock: archiveLock}
}

// ScriptPath is the ephemeral start script location.
func (l *Launcher) ScriptPath() string {
	return filepath.Join(l.instanceDir, "startscript.txt")
}

// TryLock attempts the archive-cache lock without blocking.
func (l *Launcher) TryLock() (bool, error) {
	return l.archiveLock.TryAcquire()
}

// WaitLock blocks for the archive-cache lock up to LockWaitTimeout.
func (l *Launcher) WaitLock() error {
	return l.archiveLock.Acquire(LockWaitTimeout)
}

// Spawn writes the start script and starts the engine with stdout/stderr
// appended to the log file. The archive-cache lock descriptor is
// close-on-exec and never inherited by the child.
func (l *Launcher) Spawn(s *Snapshot, scriptTags map[string]string, hostIP string, hostPort, autoHostPort int) (pid int, err error) {
	f, err := os.Create(l.ScriptPath())
	if err != nil {
		return 0, fmt.Errorf("creating start script: %w", err)
	}
	if err := WriteStartScript(f, s, scriptTags, hostIP, hostPort, autoHostPort); err != nil {
		f.Close()
		return 0, err
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("closing start script: %w", err)
	}

	logf, err := os.OpenFile(l.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, fmt.Errorf("opening engine log: %w", err)
	}
	defer logf.Close()

	cmd := exec.Command(l.binary, l.ScriptPath())
	cmd.Stdout = logf
	cmd.Stderr = logf
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("spawning engine: %w", err)
	}
	l.proc = cmd
	slog.Info("engine started", "pid", cmd.Process.Pid, "map", s.Map, "mod", s.Mod)
	return cmd.Process.Pid, nil
}

// Wait blocks until the engine exits and classifies the end.
func (l *Launcher) Wait() ExitKind {
	if l.proc == nil {
		return ExitNormal
	}
	err := l.proc.Wait()
	defer func() { l.proc = nil }()
	return ClassifyExit(err)
}

// Running reports whether a child process is tracked.
func (l *Launcher) Running() bool { return l.proc != nil }

// ReleaseLock drops the archive-cache lock after launch bookkeeping.
func (l *Launcher) ReleaseLock() error { return l.archiveLock.Release() }

// ExitKind classifies how the engine ended.
type ExitKind int

const (
	ExitNormal ExitKind = iota
	ExitSyncErrors
	ExitCrash
)

// ClassifyExit maps a process exit to its kind: 0 is normal, 255 flags
// sync errors, anything else (including signals and core dumps) is a
// crash.
func ClassifyExit(waitErr error) ExitKind {
	if waitErr == nil {
		return ExitNormal
	}
	ee, ok := waitErr.(*exec.ExitError)
	if !ok {
		return ExitCrash
	}
	ws, ok := ee.Sys().(syscall.WaitStatus)
	if !ok {
		return ExitCrash
	}
	if ws.Signaled() || ws.CoreDump() {
		return ExitCrash
	}
	switch ws.ExitStatus() {
	case 0:
		return ExitNormal
	case 255:
		return ExitSyncErrors
	default:
		return ExitCrash
	}
}

// CrashAlert is the alert code raised on an engine crash.
const CrashAlert = "SPR-001"

// CrashBroadcast is the room announcement on an engine crash.
const CrashBroadcast = "Spring crashed"

// PrematureGrace delays the crash path after a premature process exit
// while the autohost socket still reports an active game.
const PrematureGrace = 5 * time.Second
