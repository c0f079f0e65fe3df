package cli

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vietddude/invmon/internal/invariant"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Show the active rule set, or the registered protocols with --list",
	Run:   runRules,
}

var listProtocols bool

func init() {
	rulesCmd.Flags().BoolVar(&listProtocols, "list", false, "list registered protocols and rule types")
	rootCmd.AddCommand(rulesCmd)
}

func runRules(cmd *cobra.Command, args []string) {
	if listProtocols {
		fmt.Printf("Protocols:  %s\n", strings.Join(invariant.Protocols(), ", "))
		fmt.Printf("Rule types: %s\n", strings.Join(invariant.CheckerTypes(), ", "))
		return
	}

	cfg := loadConfig(cmd)
	inv, err := loadInvariants(cfg)
	if err != nil {
		slog.Error("Failed to load rules", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Protocol: %s  Chain: %s\n", inv.GetProtocol(), inv.GetChain())

	contracts := inv.GetContracts()
	labels := make([]string, 0, len(contracts))
	for label := range contracts {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	for _, label := range labels {
		fmt.Printf("  %-8s %s\n", label, contracts[label])
	}
	fmt.Println()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "ID\tTYPE\tSEVERITY\tTHRESHOLD\tCONTRACT\tFUNCTION")
	for _, rule := range inv.GetRules() {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			rule.ID, rule.Type, rule.Severity, rule.Threshold, shortAddress(rule.Contract), rule.Function)
	}
	_ = w.Flush()
}

func shortAddress(addr string) string {
	if len(addr) <= 14 {
		return addr
	}
	return addr[:8] + ".." + addr[len(addr)-4:]
}
