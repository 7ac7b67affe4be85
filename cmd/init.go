package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/AlecAivazis/survey/v2"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cloudchase/tfmeta/config"
)

var (
	initFile  string
	initYes   bool
	initForce bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter tfmeta.yaml",
	Long: `Write a configuration file with every tunable of a populate run. Provenance
strings, the class count and the label file are asked for interactively unless
--yes is given; flags pre-fill the answers.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	f := initCmd.Flags()
	f.StringVarP(&initFile, "file", "f", config.FileName+".yaml", "File to write")
	f.BoolVarP(&initYes, "yes", "y", false, "Accept defaults without prompting")
	f.BoolVar(&initForce, "force", false, "Overwrite an existing file")
	f.String("name", "", "Model name")
	f.String("version", "", "Model version")
	f.String("author", "", "Model author")
	f.Int("classes", 0, "Number of output classes")
	f.String("labels", "", "Label file")
}

func runInit(cmd *cobra.Command, _ []string) error {
	if _, err := os.Stat(initFile); err == nil && !initForce {
		return fmt.Errorf("%s already exists, use --force to overwrite", initFile)
	}

	cfg := *appConfig
	if !initYes {
		if err := askProvenance(&cfg); err != nil {
			return err
		}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(initFile, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", initFile, err)
	}
	color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "Wrote %s\n", initFile)
	return nil
}

func askProvenance(cfg *config.Config) error {
	classes := strconv.Itoa(cfg.Output.Classes)
	qs := []*survey.Question{
		{
			Name:     "name",
			Prompt:   &survey.Input{Message: "Model name:", Default: cfg.Model.Name},
			Validate: survey.Required,
		},
		{
			Name:   "version",
			Prompt: &survey.Input{Message: "Version:", Default: cfg.Model.Version},
		},
		{
			Name:   "author",
			Prompt: &survey.Input{Message: "Author:", Default: cfg.Model.Author},
		},
		{
			Name:   "classes",
			Prompt: &survey.Input{Message: "Number of classes:", Default: classes},
			Validate: func(ans interface{}) error {
				if n, err := strconv.Atoi(ans.(string)); err != nil || n <= 0 {
					return fmt.Errorf("enter a positive integer")
				}
				return nil
			},
		},
		{
			Name:     "labels",
			Prompt:   &survey.Input{Message: "Label file:", Default: cfg.Labels.Path},
			Validate: survey.Required,
		},
	}

	answers := struct {
		Name    string
		Version string
		Author  string
		Classes string
		Labels  string
	}{}
	if err := survey.Ask(qs, &answers); err != nil {
		return err
	}

	cfg.Model.Name = answers.Name
	cfg.Model.Version = answers.Version
	cfg.Model.Author = answers.Author
	cfg.Output.Classes, _ = strconv.Atoi(answers.Classes)
	cfg.Labels.Path = answers.Labels
	return nil
}
