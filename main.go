// Copyright 2020 MPI-SWS and Valentin Wuestholz

// This file is part of Husk.
//
// Husk is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Husk is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Husk.  If not, see <https://www.gnu.org/licenses/>.

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/practical-formal-methods/husk/analysis"
)

// jobMsg is one contract in a batch file: runtime bytecode plus the
// selectors to analyze.
type jobMsg struct {
	Code      string   `json:"code"`
	Selectors []string `json:"selectors"`
	Sigs      []string `json:"sigs,omitempty"`
}

func main() {
	app := &cli.App{
		Name:  "husk",
		Usage: "recover function argument types from EVM runtime bytecode",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "code", Usage: "runtime bytecode as hex"},
			&cli.StringFlag{Name: "code-file", Usage: "file holding the runtime bytecode as hex"},
			&cli.StringSliceFlag{Name: "selector", Usage: "4-byte function selector as hex (repeatable)"},
			&cli.StringSliceFlag{Name: "sig", Usage: "function signature to derive a selector from (repeatable)"},
			&cli.Uint64Flag{Name: "gas-limit", Value: analysis.DefaultGasLimit, Usage: "per-selector analysis gas budget"},
			&cli.StringFlag{Name: "batch", Usage: "JSON job file: {name: {code, selectors}}"},
			&cli.StringFlag{Name: "output", Usage: "write batch results to this JSON file instead of stdout"},
			&cli.IntFlag{Name: "verbosity", Value: 3, Usage: "log verbosity (0-5)"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx *cli.Context) error {
	log.Root().SetHandler(log.LvlFilterHandler(
		log.Lvl(ctx.Int("verbosity")),
		log.StreamHandler(os.Stderr, log.TerminalFormat(false)),
	))

	if batch := ctx.String("batch"); batch != "" {
		return runBatch(batch, ctx.String("output"), ctx.Uint64("gas-limit"))
	}

	codeHex := ctx.String("code")
	if f := ctx.String("code-file"); f != "" {
		data, err := os.ReadFile(f)
		if err != nil {
			return err
		}
		codeHex = strings.TrimSpace(string(data))
	}
	if codeHex == "" {
		return fmt.Errorf("one of -code, -code-file or -batch is required")
	}
	code := common.FromHex(codeHex)

	var selectors [][]byte
	for _, s := range ctx.StringSlice("selector") {
		sel := common.FromHex(s)
		if len(sel) != 4 {
			return fmt.Errorf("selector %q is not 4 bytes", s)
		}
		selectors = append(selectors, sel)
	}
	for _, s := range ctx.StringSlice("sig") {
		selectors = append(selectors, analysis.Selector(s))
	}
	if len(selectors) == 0 {
		return fmt.Errorf("at least one -selector or -sig is required")
	}

	for _, sel := range selectors {
		args, stats := analysis.FunctionArgumentsWithStats(code, sel, ctx.Uint64("gas-limit"))
		log.Debug("analysis done", "selector", fmt.Sprintf("%#x", sel),
			"steps", stats.Steps, "gas", stats.GasUsed, "cause", stats.Cause)
		fmt.Printf("%#x: (%s)\n", sel, args)
	}
	return nil
}

func runBatch(inPath, outPath string, gasLimit uint64) error {
	filePtr, err := os.Open(inPath)
	if err != nil {
		return fmt.Errorf("can not open batch file: %w", err)
	}
	defer filePtr.Close()

	var jobs map[string]*jobMsg
	if err := json.NewDecoder(filePtr).Decode(&jobs); err != nil {
		return fmt.Errorf("decode batch file failed: %w", err)
	}

	results := map[string]map[string]string{}
	for name, job := range jobs {
		code := common.FromHex(job.Code)
		if len(code) == 0 {
			log.Warn("skipping contract with empty code", "name", name)
			continue
		}
		res := map[string]string{}
		selectors := append([]string(nil), job.Selectors...)
		for _, sig := range job.Sigs {
			selectors = append(selectors, fmt.Sprintf("%#x", analysis.Selector(sig)))
		}
		for _, s := range selectors {
			sel := common.FromHex(s)
			if len(sel) != 4 {
				log.Warn("skipping malformed selector", "name", name, "selector", s)
				continue
			}
			res[fmt.Sprintf("%#x", sel)] = analysis.FunctionArguments(code, sel, gasLimit)
		}
		results[name] = res
	}

	out := os.Stdout
	if outPath != "" {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create result file failed: %w", err)
		}
		defer f.Close()
		out = f
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}
