package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "kairos",
	Short: "Kairos - 국내주식 자동매매 어시스턴트",
	Long: `Kairos Unified CLI

아침 수집 → 3단계 AI 선정 → 장중 감시 → 청산 → 성과 추적 → 학습의
하루 사이클을 하나의 프로세스로 돌린다.

Usage:
  go run ./cmd/kairos [command]

Examples:
  go run ./cmd/kairos start
  go run ./cmd/kairos collect
  go run ./cmd/kairos morning
  go run ./cmd/kairos perf
  go run ./cmd/kairos status`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
