// Command sylsim runs the Brownian sylinder suspension simulation.
package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/sylsim/sylsim/comm"
	"github.com/sylsim/sylsim/config"
	"github.com/sylsim/sylsim/logging"
	"github.com/sylsim/sylsim/sim"
)

var (
	configPath  string
	posPath     string
	restartPath string
	ranks       int
	metricsAddr string
)

func main() {
	root := &cobra.Command{
		Use:          "sylsim",
		Short:        "Brownian dynamics of constrained spherocylinder suspensions",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "runConfig.yaml",
		"YAML run configuration")
	root.PersistentFlags().IntVarP(&ranks, "ranks", "r", 1,
		"number of ranks (in-process)")
	root.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "",
		"serve prometheus metrics on this address (empty: disabled)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "start a simulation from a .dat file or the config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return drive(func(cfg *config.Config, c *comm.Comm, log *slog.Logger) (*sim.System, error) {
				return sim.New(cfg, c, log, posPath)
			})
		},
	}
	runCmd.Flags().StringVarP(&posPath, "pos", "p", "",
		"initial configuration .dat file (empty: draw from config)")

	resumeCmd := &cobra.Command{
		Use:   "resume",
		Short: "resume from a restart descriptor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return drive(func(cfg *config.Config, c *comm.Comm, log *slog.Logger) (*sim.System, error) {
				return sim.Reinitialize(cfg, c, log, restartPath)
			})
		},
	}
	resumeCmd.Flags().StringVar(&restartPath, "restart", "result/TimeStepInfo.txt",
		"restart descriptor written by a previous run")

	root.AddCommand(runCmd, resumeCmd)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// drive builds one System per rank and steps until timeTotal. The
// top-level driver is the only place that aborts on error.
func drive(build func(*config.Config, *comm.Comm, *slog.Logger) (*sim.System, error)) error {
	cfg, err := config.Read(configPath)
	if err != nil {
		return err
	}
	log := logging.New(cfg.LogLevel)

	if ranks < 1 {
		return fmt.Errorf("invalid rank count %d", ranks)
	}

	return comm.Run(ranks, func(c *comm.Comm) error {
		s, err := build(cfg, c, log)
		if err != nil {
			return err
		}

		if c.Rank() == 0 && metricsAddr != "" {
			reg := prometheus.NewRegistry()
			s.Metrics().Register(reg)
			go func() {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
				if err := http.ListenAndServe(metricsAddr, mux); err != nil {
					log.Error("metrics server failed", "err", err)
				}
			}()
		}

		nSteps := int(cfg.TimeTotal / cfg.Dt)
		for s.StepCount() < nSteps {
			if err := s.PrepareStep(); err != nil {
				log.Error("fatal step error", "rank", c.Rank(), "err", err)
				return err
			}
			if err := s.RunStep(); err != nil {
				log.Error("fatal step error", "rank", c.Rank(), "err", err)
				return err
			}
		}
		s.CalcConStress()
		s.CalcOrderParameter()
		return nil
	})
}
