package historycmd

import (
	"io"
	"net/http"
	"strings"

	"github.com/simonjohansson/tracker/internal/tracker/commands/common"
	"github.com/spf13/cobra"
)

func New(runtime common.Runtime, stdout io.Writer, handle common.HandleResponseFunc, wrapErr common.WrapErrorFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "history",
		Aliases: []string{"log"},
		Short:   "Show the history of an entity.",
		Long: strings.TrimSpace(`Lists visible history entries oldest first.
--squashed merges each run of same-author changes made within ten minutes into one entry.`),
		Example: strings.TrimSpace(`tracker history -p alpha -k task -i 1
tracker log -p alpha -k task -i 1 --squashed --output json`),
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := common.NewClient(runtime)
			if err != nil {
				return wrapErr(http.StatusBadRequest, err.Error())
			}

			project, _ := cmd.Flags().GetString("project")
			kind, _ := cmd.Flags().GetString("kind")
			id, _ := cmd.Flags().GetInt64("id")
			squashed, _ := cmd.Flags().GetBool("squashed")

			path, err := common.Path("/projects/{project}/{kind}/{id}/history",
				common.P("project", strings.TrimSpace(project)),
				common.P("kind", strings.TrimSpace(kind)),
				common.P("id", id),
			)
			if err != nil {
				return wrapErr(http.StatusBadRequest, err.Error())
			}
			query, err := common.Query(common.P("squashed", squashed))
			if err != nil {
				return wrapErr(http.StatusBadRequest, err.Error())
			}
			resp, reqErr := client.Do(cmd.Context(), http.MethodGet, path, query, nil)
			return handle(runtime.Output(), stdout, resp, reqErr)
		},
	}
	cmd.Flags().StringP("project", "p", "", "Project slug")
	cmd.Flags().StringP("kind", "k", "", "Entity kind")
	cmd.Flags().Int64P("id", "i", 0, "Entity id")
	cmd.Flags().Bool("squashed", false, "Merge adjacent entries by the same author")
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("kind")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}
