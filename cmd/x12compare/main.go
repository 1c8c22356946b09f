package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"x12ack/internal/compare"
	"x12ack/internal/domain"
	"x12ack/internal/engine"
	"x12ack/internal/ingest/socket"
	"x12ack/internal/logging"
	"x12ack/internal/output"
	"x12ack/internal/rules"
)

type options struct {
	prod, test     string
	rulesDir       string
	outDir         string
	addr, network  string
	token          string
	reportTrailing bool
	includeReport  bool
	timeout        time.Duration
	verbose        bool
}

func main() {
	var o options
	flag.StringVar(&o.prod, "prod", "", "production X12 document")
	flag.StringVar(&o.test, "test", "", "test X12 document")
	flag.StringVar(&o.rulesDir, "rules", "rules", "rules directory (<tx>.json or <tx>.yaml)")
	flag.StringVar(&o.outDir, "out", "", "write the 997 and text report under this directory")
	flag.StringVar(&o.addr, "addr", "", "validate remotely against an x12ackd socket address")
	flag.StringVar(&o.network, "network", "tcp", "socket network for -addr (tcp or unix)")
	flag.StringVar(&o.token, "token", "", "socket auth token")
	flag.BoolVar(&o.reportTrailing, "report-trailing", false, "report unmatched trailing segments")
	flag.BoolVar(&o.includeReport, "report", true, "include the text report in the output")
	flag.DurationVar(&o.timeout, "timeout", 30*time.Second, "overall timeout")
	flag.BoolVar(&o.verbose, "v", false, "log to stderr")
	flag.Parse()

	if err := run(o); err != nil {
		fmt.Fprintf(os.Stderr, "x12compare: %v\n", err)
		os.Exit(1)
	}
}

func run(o options) error {
	if o.prod == "" || o.test == "" {
		return errors.New("-prod and -test are required")
	}
	prodDoc, err := os.ReadFile(o.prod)
	if err != nil {
		return err
	}
	testDoc, err := os.ReadFile(o.test)
	if err != nil {
		return err
	}
	job := domain.ComparisonJob{
		ProdName:      filepath.Base(o.prod),
		TestName:      filepath.Base(o.test),
		ProdDocument:  string(prodDoc),
		TestDocument:  string(testDoc),
		Source:        "cli",
		SourceRef:     o.prod + "|" + o.test,
		ReceivedAtUTC: time.Now().UTC(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()

	var out domain.Outcome
	if o.addr != "" {
		out, err = remote(ctx, o, job)
	} else {
		out, err = local(ctx, o, job)
	}
	if err != nil {
		return err
	}
	if !o.includeReport {
		out.Report = ""
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func local(ctx context.Context, o options, job domain.ComparisonJob) (domain.Outcome, error) {
	env := logging.EnvironmentProduction
	if o.verbose {
		env = logging.EnvironmentDevelopment
	}
	logger, err := logging.New(logging.Config{Environment: env, Level: levelFor(o.verbose), Encoding: "console"})
	if err != nil {
		return domain.Outcome{}, err
	}
	defer func() { _ = logger.Sync() }()

	profile := compare.DefaultProfile()
	profile.ReportTrailing = o.reportTrailing
	opts := engine.Options{Lookup: rules.WithDefaultProfile(rules.NewDirLookup(o.rulesDir), profile), Logger: logger}
	if o.outDir != "" {
		w, err := output.NewWriter(o.outDir)
		if err != nil {
			return domain.Outcome{}, err
		}
		opts.Writer = w
	}
	svc, err := engine.NewService(opts)
	if err != nil {
		return domain.Outcome{}, err
	}
	return svc.Process(ctx, job)
}

func remote(ctx context.Context, o options, job domain.ComparisonJob) (domain.Outcome, error) {
	req := &socket.SocketRequest{
		RequestId: uuid.NewString(),
		AuthToken: o.token,
		Operation: int32(socket.OperationValidate),
		Validate: &socket.ValidationRequest{
			ProdName:      job.ProdName,
			TestName:      job.TestName,
			ProdDocument:  job.ProdDocument,
			TestDocument:  job.TestDocument,
			IncludeReport: o.includeReport,
		},
	}
	res, err := socket.DialAndRequest(ctx, o.network, o.addr, req)
	if err != nil {
		return domain.Outcome{}, err
	}
	if res.ErrorCode != int32(socket.ErrorCodeOK) {
		return domain.Outcome{}, socket.Error(socket.ErrorCode(res.ErrorCode), res.ErrorMessage)
	}
	if res.Validation == nil {
		return domain.Outcome{}, errors.New("empty validation response")
	}
	return socket.OutcomeFromResponse(res.Validation), nil
}

func levelFor(verbose bool) string {
	if verbose {
		return "debug"
	}
	return "error"
}
