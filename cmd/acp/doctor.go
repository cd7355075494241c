package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/davidahmann/acp/core/config"
	"github.com/davidahmann/acp/core/doctor"
)

type doctorOutput struct {
	OK bool `json:"ok"`
	errorFields
	doctor.Result
}

func runDoctor(arguments []string) int {
	if hasExplainFlag(arguments) {
		return writeExplain("Check that the resolved configuration selects a usable consent channel, that the channel is reachable, and that trusted keys, journal and nonce store are usable.")
	}
	arguments = reorderInterspersedFlags(arguments, map[string]bool{
		"config": true,
		"mode":   true,
	})

	flagSet := flag.NewFlagSet("doctor", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	var configPath string
	var mode string
	var offline bool
	var jsonOutput bool
	var helpFlag bool

	flagSet.StringVar(&configPath, "config", "", "project config path (default .acp/config.yaml)")
	flagSet.StringVar(&mode, "mode", "", "check this mode instead of the configured one")
	flagSet.BoolVar(&offline, "offline", false, "skip network probes")
	flagSet.BoolVar(&jsonOutput, "json", false, "emit JSON output")
	flagSet.BoolVar(&helpFlag, "help", false, "show help")

	if err := flagSet.Parse(arguments); err != nil {
		return writeDoctorOutput(jsonOutput, doctorOutput{errorFields: errorFields{Error: err.Error()}}, exitInvalidInput)
	}
	if helpFlag {
		printDoctorUsage()
		return exitOK
	}
	if len(flagSet.Args()) > 0 {
		return writeDoctorOutput(jsonOutput, doctorOutput{errorFields: errorFields{Error: "unexpected positional arguments"}}, exitInvalidInput)
	}

	settings, err := config.Load(config.LoadOptions{ProjectPath: configPath, Explicit: config.Settings{Mode: mode}})
	if err != nil {
		return writeDoctorOutput(jsonOutput, doctorOutput{errorFields: classifyError(err)}, exitCodeForError(err, exitInvalidInput))
	}
	result := doctor.Run(context.Background(), doctor.Options{
		Settings:        settings,
		ProducerVersion: version,
		Offline:         offline,
	})
	output := doctorOutput{OK: result.Status != doctor.StatusFail, Result: result}
	if !output.OK {
		output.Error = result.Summary
		output.ErrorCode = "doctor_failed"
		return writeDoctorOutput(jsonOutput, output, exitInvalidInput)
	}
	return writeDoctorOutput(jsonOutput, output, exitOK)
}

func writeDoctorOutput(jsonOutput bool, output doctorOutput, exitCode int) int {
	if jsonOutput {
		return writeJSONOutput(output, exitCode)
	}
	if output.Summary == "" {
		fmt.Printf("doctor error: %s\n", output.Error)
		return exitCode
	}
	fmt.Println(output.Summary)
	for _, check := range output.Checks {
		fmt.Printf("  [%s] %s: %s\n", check.Status, check.Name, check.Message)
	}
	for _, fix := range output.FixCommands {
		fmt.Printf("  fix: %s\n", fix)
	}
	return exitCode
}

func printDoctorUsage() {
	fmt.Println("Usage:")
	fmt.Println("  acp doctor [--config .acp/config.yaml] [--mode local|telegram|gateway] [--offline] [--json] [--explain]")
}
