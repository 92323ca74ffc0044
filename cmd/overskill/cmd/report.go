package cmd

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/todddickerson/overskill-sub011/internal/build"
	"github.com/todddickerson/overskill-sub011/internal/deploy"
	"github.com/todddickerson/overskill-sub011/internal/pipeline"
)

type buildReport struct {
	Success      bool     `yaml:"success"`
	State        string   `yaml:"state"`
	Attempts     int      `yaml:"attempts"`
	SelfHealed   bool     `yaml:"self_healed"`
	Files        int      `yaml:"files"`
	FixesApplied []string `yaml:"fixes_applied,omitempty"`
	FixFailures  []string `yaml:"fix_failures,omitempty"`
	Reason       string   `yaml:"reason,omitempty"`
	Error        string   `yaml:"error,omitempty"`
	Duration     string   `yaml:"duration"`
}

type deployReport struct {
	Success       bool     `yaml:"success"`
	DeploymentID  string   `yaml:"deployment_id"`
	Script        string   `yaml:"script,omitempty"`
	URL           string   `yaml:"url,omitempty"`
	SubdomainURL  string   `yaml:"subdomain_url,omitempty"`
	Routes        []string `yaml:"routes,omitempty"`
	UploadedFiles []string `yaml:"uploaded_files,omitempty"`
	Failures      []string `yaml:"failures,omitempty"`
	Warnings      []string `yaml:"warnings,omitempty"`
	Error         string   `yaml:"error,omitempty"`
}

type pipelineReport struct {
	App         string        `yaml:"app"`
	Environment string        `yaml:"environment"`
	Success     bool          `yaml:"success"`
	Stage       string        `yaml:"stage"`
	URL         string        `yaml:"url,omitempty"`
	Error       string        `yaml:"error,omitempty"`
	Build       *buildReport  `yaml:"build,omitempty"`
	Deploy      *deployReport `yaml:"deploy,omitempty"`
	Duration    string        `yaml:"duration"`
}

func buildReportOf(res build.Result) *buildReport {
	if res.State == "" {
		return nil
	}
	return &buildReport{
		Success:      res.Success,
		State:        string(res.State),
		Attempts:     res.Attempts,
		SelfHealed:   res.SelfHealed,
		Files:        len(res.Files),
		FixesApplied: res.FixesApplied,
		FixFailures:  res.FixFailures,
		Reason:       res.Reason,
		Error:        res.Error,
		Duration:     res.Duration.String(),
	}
}

func deployReportOf(res *deploy.Result) *deployReport {
	if res == nil {
		return nil
	}
	return &deployReport{
		Success:       res.Success,
		DeploymentID:  res.DeploymentID,
		Script:        res.ScriptName,
		URL:           res.URL,
		SubdomainURL:  res.SubdomainURL,
		Routes:        res.Routes,
		UploadedFiles: res.UploadedFiles,
		Failures:      res.Failures,
		Warnings:      res.Warnings,
		Error:         res.Error,
	}
}

func pipelineReportOf(res pipeline.Result) pipelineReport {
	return pipelineReport{
		App:         res.AppID,
		Environment: res.Environment,
		Success:     res.Success,
		Stage:       string(res.Stage),
		URL:         res.URL,
		Error:       res.Error,
		Build:       buildReportOf(res.Build),
		Deploy:      deployReportOf(res.Deploy),
		Duration:    res.Duration.String(),
	}
}

func writeReport(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return enc.Close()
}
