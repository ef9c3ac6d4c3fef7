/*
Copyright © 2013 the InMAP authors.
This file is part of InMAP.

InMAP is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

InMAP is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with InMAP.  If not, see <http://www.gnu.org/licenses/>.
*/

package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	domdec "github.com/sharpneli/gromacs"
	"github.com/sharpneli/gromacs/transport"
)

var (
	ncFlag               = []int{1, 1, 1}
	npmeFlag             int
	commDistMin          float64
	dynLoadBal           bool
	loadX, loadY, loadZ  string
	pbcFlag              string
	nsTypeFlag           string
	constraintAlgFlag    string
	rank                 int
	pprofAddr            string
	pprofEnabled         bool
	rpcAddrsFlag         []string
)

var rootCmd = &cobra.Command{
	Use:   "ddsim",
	Short: "Domain-decomposition simulator for a triclinic cutoff engine",
	Long: `ddsim runs one rank of a spatial domain-decomposition engine: it
partitions charge groups onto a 3D rank grid, keeps halo tables current,
and optionally rebalances cell boundaries under dynamic load.`,
	RunE: runSim,
}

func init() {
	rootCmd.Flags().IntSliceVar(&ncFlag, "nc", ncFlag, "grid extents nx,ny,nz")
	rootCmd.Flags().IntVar(&npmeFlag, "npmenodes", 0, "number of separate PME ranks (0 disables)")
	rootCmd.Flags().Float64Var(&commDistMin, "comm_distance_min", 0, "minimum communication distance (metres)")
	rootCmd.Flags().BoolVar(&dynLoadBal, "bDynLoadBal", false, "enable dynamic load balancing")
	rootCmd.Flags().StringVar(&loadX, "loadx", "", "static per-cell load weights along x, space separated")
	rootCmd.Flags().StringVar(&loadY, "loady", "", "static per-cell load weights along y, space separated")
	rootCmd.Flags().StringVar(&loadZ, "loadz", "", "static per-cell load weights along z, space separated")
	rootCmd.Flags().StringVar(&pbcFlag, "pbc", "xyz", "periodic boundary condition type (xyz, xy; none is rejected)")
	rootCmd.Flags().StringVar(&nsTypeFlag, "ns_type", "grid", "neighbor search type (grid; simple is rejected)")
	rootCmd.Flags().StringVar(&constraintAlgFlag, "constraint_alg", "lincs", "constraint algorithm (lincs; shake is rejected)")
	rootCmd.Flags().IntVar(&rank, "rank", 0, "this process's rank")
	rootCmd.Flags().StringSliceVar(&rpcAddrsFlag, "peer", nil, "host:port of every rank, in rank order (enables the RPC transport)")
	rootCmd.Flags().BoolVar(&pprofEnabled, "pprof", false, "serve net/http/pprof diagnostics")
	rootCmd.Flags().StringVar(&pprofAddr, "pprof-addr", ":6060", "listen address for pprof diagnostics")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runSim(cmd *cobra.Command, args []string) error {
	v := viper.New()
	if err := domdec.BindEnv(v); err != nil {
		return err
	}
	v.Set("nc.x", ncFlag[0])
	v.Set("nc.y", ncFlag[1])
	v.Set("nc.z", ncFlag[2])
	v.Set("npmenodes", npmeFlag)
	v.Set("comm_distance_min", commDistMin)
	v.Set("dyn_load_bal", dynLoadBal)
	v.Set("loadx", loadX)
	v.Set("loady", loadY)
	v.Set("loadz", loadZ)
	v.Set("pbc", pbcFlag)
	v.Set("ns_type", nsTypeFlag)
	v.Set("constraint_alg", constraintAlgFlag)

	cfg, err := domdec.NewConfig(v)
	if err != nil {
		return fmt.Errorf("ddsim: invalid configuration: %w", err)
	}

	if pprofEnabled {
		go func() {
			if err := http.ListenAndServe(pprofAddr, nil); err != nil {
				fmt.Fprintf(os.Stderr, "ddsim: pprof server stopped: %v\n", err)
			}
		}()
	}

	var tr transport.Transport
	ctx := context.Background()

	if len(rpcAddrsFlag) > 0 {
		_, port, splitErr := splitHostPort(rpcAddrsFlag[rank])
		if splitErr != nil {
			return fmt.Errorf("ddsim: invalid --peer entry for this rank: %w", splitErr)
		}
		peer, listener, err := transport.ListenAndServe(rank, port)
		if err != nil {
			return fmt.Errorf("ddsim: listen: %w", err)
		}
		defer listener.Close()
		rt, err := transport.NewRPCTransport(rank, rpcAddrsFlag, peer, cfg.NC)
		if err != nil {
			return fmt.Errorf("ddsim: dial peers: %w", err)
		}
		tr = rt
	} else {
		tr = transport.NewSimulator(cfg.NC).Endpoint(rank)
	}

	cutoff := cfg.CommDistanceMin
	engine := domdec.NewEngine(cfg, tr, rank, cutoff)
	if err := engine.Init(ctx); err != nil {
		return fmt.Errorf("ddsim: init: %w", err)
	}
	return engine.Run(ctx)
}

func splitHostPort(addr string) (host, port string, err error) {
	return net.SplitHostPort(addr)
}
