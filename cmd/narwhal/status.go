package main

import (
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/narwhal-go/narwhal/primary/rpc"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Query a running primary's certificate waiter status",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().String("control", "127.0.0.1:4002", "host:port of the target primary's control plane")
	_ = viper.BindPFlags(statusCmd.Flags())
}

func runStatus(cmd *cobra.Command, args []string) error {
	client, err := rpc.DialControl(viper.GetString("control"))
	if err != nil {
		return fmt.Errorf("status: dial: %w", err)
	}
	defer client.Close()

	var report rpc.StatusReport
	if err := client.Call("Control.Status", &struct{}{}, &report); err != nil {
		return fmt.Errorf("status: call: %w", err)
	}

	fmt.Printf("epoch: %d   fetch in flight: %t\n\n", report.Epoch, report.FetchInFlight)

	authorities := make([]string, 0, len(report.Targets))
	for a := range report.Targets {
		authorities = append(authorities, a)
	}
	sort.Strings(authorities)

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Authority", "Target Round"})
	for _, a := range authorities {
		table.Append([]string{a, strconv.FormatUint(uint64(report.Targets[a]), 10)})
	}
	table.Render()
	return nil
}
