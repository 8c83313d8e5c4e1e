package commands

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/codeagent/internal/config"
	"github.com/opencode-ai/codeagent/internal/provider"
)

var modelsCmd = &cobra.Command{
	Use:   "models [provider]",
	Short: "List available models",
	Long: `List the models of every configured provider, or of one provider.

Examples:
  codeagent models              # List all models
  codeagent models anthropic    # List only Anthropic models`,
	Args: cobra.MaximumNArgs(1),
	RunE: runModels,
}

func runModels(cmd *cobra.Command, args []string) error {
	workDir, err := GetWorkDir("")
	if err != nil {
		return err
	}
	if err := config.GetPaths().EnsurePaths(); err != nil {
		return err
	}
	appConfig, err := config.Load(workDir)
	if err != nil {
		return err
	}
	providerReg := provider.InitializeProviders(cmd.Context(), appConfig)

	var providerFilter string
	if len(args) > 0 {
		providerFilter = args[0]
	}

	models := providerReg.AllModels()
	if len(models) == 0 {
		return fmt.Errorf("no models available")
	}
	sort.Slice(models, func(i, j int) bool {
		if models[i].ProviderID != models[j].ProviderID {
			return models[i].ProviderID < models[j].ProviderID
		}
		return models[i].ID < models[j].ID
	})

	var defaultRef string
	if m, err := providerReg.DefaultModel(); err == nil {
		defaultRef = m.ProviderID + "/" + m.ID
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MODEL\tCONTEXT\tMAX OUTPUT\tFEATURES\t")
	for _, model := range models {
		if providerFilter != "" && model.ProviderID != providerFilter {
			continue
		}
		ref := model.ProviderID + "/" + model.ID
		if ref == defaultRef {
			ref += " (default)"
		}
		features := ""
		if model.SupportsTools {
			features = "tools"
		}
		fmt.Fprintf(w, "%s\t%dk\t%d\t%s\t\n", ref, model.ContextLength/1000, model.MaxOutputTokens, features)
	}
	return w.Flush()
}
