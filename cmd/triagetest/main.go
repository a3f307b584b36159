// Command triagetest runs one intake through the configured model and prints
// the resulting triage record, for checking a provider before deploying.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/wolfman30/clinic-automation/cmd/mainconfig"
	"github.com/wolfman30/clinic-automation/internal/app/bootstrap"
	appconfig "github.com/wolfman30/clinic-automation/internal/config"
	"github.com/wolfman30/clinic-automation/internal/intake"
	"github.com/wolfman30/clinic-automation/internal/llm"
	"github.com/wolfman30/clinic-automation/internal/records"
	"github.com/wolfman30/clinic-automation/internal/triage"
	"github.com/wolfman30/clinic-automation/pkg/logging"
)

func main() {
	reason := flag.String("reason", "Chest pain when climbing stairs, short of breath", "reason for visit")
	meds := flag.String("meds", "", "current medications")
	conditions := flag.String("conditions", "", "past conditions")
	file := flag.String("file", "", "path to an intake webhook JSON body; overrides the other flags")
	flag.Parse()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), 2*cfg.ModelTimeout)
	defer cancel()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		log.Fatalf("aws config: %v", err)
	}
	client, err := bootstrap.BuildModelClient(ctx, cfg, awsCfg, logger)
	if err != nil {
		log.Fatalf("model client: %v", err)
	}

	classifier := triage.NewClassifier(client, triage.WithTimeout(cfg.ModelTimeout), triage.WithLogger(logger))
	in := records.Intake{
		FormID:             "triagetest",
		PatientName:        "Test Patient",
		ReasonForVisit:     *reason,
		CurrentMedications: *meds,
		PastConditions:     *conditions,
	}
	if *file != "" {
		in, err = loadIntake(*file)
		if err != nil {
			log.Fatalf("load intake: %v", err)
		}
	}

	fmt.Printf("provider: %s\n", llm.NameOf(client))
	start := time.Now()
	out := classifier.Classify(ctx, in)
	fmt.Printf("path: %s (degraded=%v) in %v\n", out.Path, out.Degraded, time.Since(start).Round(time.Millisecond))
	if out.Err != nil {
		fmt.Printf("note: %v\n", out.Err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out.Record); err != nil {
		log.Fatalf("encode: %v", err)
	}
}

func loadIntake(path string) (records.Intake, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return records.Intake{}, err
	}
	var sub intake.Submission
	if err := json.Unmarshal(raw, &sub); err != nil {
		return records.Intake{}, err
	}
	sub = sub.Normalize()
	if err := sub.Validate(); err != nil {
		return records.Intake{}, err
	}
	return sub.ToIntake(time.Now()), nil
}
