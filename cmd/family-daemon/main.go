// Command family-daemon runs the dots-family policy daemon: a single
// long-running process exporting org.dots.FamilyDaemon on the system bus.
package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dots-distro/dots-family-mode-sub003/internal/daemon"
	"github.com/dots-distro/dots-family-mode-sub003/internal/domain"
)

/**
 * CONTEXT:   CLI entry point wrapping internal/daemon.Orchestrator
 * INPUT:     --config/--foreground flags, DOTS_FAMILY_PASSPHRASE env var
 *            or an interactive prompt for the store's unlock passphrase
 * OUTPUT:    Process exit codes matching internal/daemon's Exit* constants
 * BUSINESS:  A missing required capability (CAP_DAC_READ_SEARCH, needed
 *            to read other users' /proc/<pid> entries for uid binding)
 *            is a hard startup failure, not a degraded-mode warning
 * CHANGE:    Replaces the teacher's flag-based HTTP daemon entrypoint
 *            with a cobra root command; capability check and colorized
 *            startup banner are new, grounded on the rest of the pack's
 *            spf13/cobra + fatih/color usage for CLI daemons
 * RISK:      Medium - wrong exit code here breaks systemd's restart
 *            policy classification
 */
var (
	configPath string
	foreground bool
)

func main() {
	root := &cobra.Command{
		Use:   "family-daemon",
		Short: "dots-family parental policy daemon",
		RunE:  run,
	}
	root.Flags().StringVar(&configPath, "config", "", "path to daemon.json (default: "+"/etc/dots-family/daemon.json"+" or $DOTS_FAMILY_CONFIG)")
	root.Flags().BoolVar(&foreground, "foreground", false, "run in the foreground instead of as a supervised service")

	if err := root.Execute(); err != nil {
		color.Red("family-daemon: %v", err)
		switch domain.KindOf(err) {
		case domain.KindSchema:
			os.Exit(daemon.ExitSchemaError)
		case domain.KindCapability:
			os.Exit(daemon.ExitCapabilityError)
		}
		os.Exit(daemon.ExitConfigError)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if err := checkCapabilities(); err != nil {
		color.Red("family-daemon: %v", err)
		os.Exit(daemon.ExitCapabilityError)
	}

	passphrase := resolvePassphrase()

	if foreground {
		color.Cyan("dots-family daemon starting (foreground)")
	}

	orch, err := daemon.NewOrchestrator(daemon.Options{
		ConfigPath: configPath,
		Passphrase: passphrase,
	})
	if err != nil {
		return err
	}

	if err := orch.Run(); err != nil {
		if domain.KindOf(err) == domain.KindCapability {
			os.Exit(daemon.ExitBusNameUnavailable)
		}
		os.Exit(1)
	}
	return nil
}

// resolvePassphrase reads the store unlock passphrase from the
// environment (systemd credential / secret-manager injection) or, for
// interactive foreground use, prompts on stdin.
func resolvePassphrase() string {
	const envVar = "DOTS_FAMILY_PASSPHRASE"
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	fmt.Fprint(os.Stderr, "store passphrase: ")
	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	return trimNewline(line)
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

