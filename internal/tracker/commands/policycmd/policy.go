package policycmd

import (
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"

	"github.com/simonjohansson/tracker/internal/tracker/commands/common"
	"github.com/spf13/cobra"
)

const policyPath = "/projects/{project}/notify-policies/{user}"

var levels = []string{"all", "involved", "none"}

func New(runtime common.Runtime, stdout io.Writer, handle common.HandleResponseFunc, wrapErr common.WrapErrorFunc) *cobra.Command {
	policyCmd := &cobra.Command{
		Use:     "policy",
		Aliases: []string{"notify"},
		Short:   "Read and change per-project notification levels.",
		Long:    "Levels: all (every change), involved (owned, assigned, watched or mentioned), none.",
	}

	getCmd := &cobra.Command{
		Use:     "get",
		Aliases: []string{"show"},
		Short:   "Show a member's notification policy.",
		Example: strings.TrimSpace(`tracker policy get -p alpha --user 2`),
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := common.NewClient(runtime)
			if err != nil {
				return wrapErr(http.StatusBadRequest, err.Error())
			}

			path, err := policyTarget(cmd)
			if err != nil {
				return wrapErr(http.StatusBadRequest, err.Error())
			}
			resp, reqErr := client.Do(cmd.Context(), http.MethodGet, path, nil, nil)
			return handle(runtime.Output(), stdout, resp, reqErr)
		},
	}
	addTargetFlags(getCmd)

	setCmd := &cobra.Command{
		Use:   "set",
		Short: "Change a member's notification policy.",
		Long:  "--level sets both the mail and live level; --live-level overrides the live level alone.",
		Example: strings.TrimSpace(`tracker policy set -p alpha --user 2 --level all
tracker notify set -p alpha --user 2 --live-level none --notify-own-changes=true`),
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := common.NewClient(runtime)
			if err != nil {
				return wrapErr(http.StatusBadRequest, err.Error())
			}

			body := map[string]any{}
			for flag, key := range map[string]string{"level": "level", "live-level": "live_level"} {
				if !cmd.Flags().Changed(flag) {
					continue
				}
				value, _ := cmd.Flags().GetString(flag)
				value = strings.TrimSpace(value)
				if !slices.Contains(levels, value) {
					return wrapErr(http.StatusBadRequest, fmt.Sprintf("invalid --%s: %s (want %s)", flag, value, strings.Join(levels, "|")))
				}
				body[key] = value
			}
			if cmd.Flags().Changed("notify-own-changes") {
				own, _ := cmd.Flags().GetBool("notify-own-changes")
				body["notify_own_changes"] = own
			}
			if len(body) == 0 {
				return wrapErr(http.StatusBadRequest, "nothing to change: pass --level, --live-level or --notify-own-changes")
			}

			path, err := policyTarget(cmd)
			if err != nil {
				return wrapErr(http.StatusBadRequest, err.Error())
			}
			resp, reqErr := client.Do(cmd.Context(), http.MethodPut, path, nil, body)
			return handle(runtime.Output(), stdout, resp, reqErr)
		},
	}
	addTargetFlags(setCmd)
	setCmd.Flags().String("level", "", "Mail level: all|involved|none")
	setCmd.Flags().String("live-level", "", "Live notification level: all|involved|none")
	setCmd.Flags().Bool("notify-own-changes", false, "Also notify about the member's own changes")

	policyCmd.AddCommand(getCmd, setCmd)
	return policyCmd
}

func addTargetFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("project", "p", "", "Project slug")
	cmd.Flags().Int64("user", 0, "Member user id")
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("user")
}

func policyTarget(cmd *cobra.Command) (string, error) {
	project, _ := cmd.Flags().GetString("project")
	user, _ := cmd.Flags().GetInt64("user")
	return common.Path(policyPath, common.P("project", strings.TrimSpace(project)), common.P("user", user))
}
