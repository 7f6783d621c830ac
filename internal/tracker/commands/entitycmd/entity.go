package entitycmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/simonjohansson/tracker/internal/tracker/commands/common"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const entityPath = "/projects/{project}/{kind}/{id}"

func New(runtime common.Runtime, stdout io.Writer, handle common.HandleResponseFunc, wrapErr common.WrapErrorFunc) *cobra.Command {
	entityCmd := &cobra.Command{
		Use:     "entity",
		Aliases: []string{"entities", "item"},
		Short:   "Create, change and delete tracked entities.",
		Long: strings.TrimSpace(`Every change records one history entry and bumps the entity version.
Updates and deletes must carry the version last read (--version).
Kinds: epic, userstory, task, issue, wikipage, milestone, relateduserstory.`),
	}

	createCmd := &cobra.Command{
		Use:     "create",
		Aliases: []string{"new"},
		Short:   "Create an entity.",
		Example: strings.TrimSpace(`tracker entity create -p alpha -k task --set subject="Write docs" --set status=New
tracker item new -p alpha -k issue --fields-json '{"subject":"Crash","priority":"High"}' --assign 2`),
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := common.NewClient(runtime)
			if err != nil {
				return wrapErr(http.StatusBadRequest, err.Error())
			}

			project, _ := cmd.Flags().GetString("project")
			kind, _ := cmd.Flags().GetString("kind")
			body, err := patchBody(cmd.Flags())
			if err != nil {
				return wrapErr(http.StatusBadRequest, err.Error())
			}

			path, err := common.Path("/projects/{project}/{kind}", common.P("project", strings.TrimSpace(project)), common.P("kind", strings.TrimSpace(kind)))
			if err != nil {
				return wrapErr(http.StatusBadRequest, err.Error())
			}
			resp, reqErr := client.Do(cmd.Context(), http.MethodPost, path, nil, body)
			return handle(runtime.Output(), stdout, resp, reqErr)
		},
	}
	addTargetFlags(createCmd, false)
	addPatchFlags(createCmd)

	getCmd := &cobra.Command{
		Use:     "get",
		Aliases: []string{"show"},
		Short:   "Get one entity with its current version.",
		Example: strings.TrimSpace(`tracker entity get -p alpha -k task -i 1`),
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := common.NewClient(runtime)
			if err != nil {
				return wrapErr(http.StatusBadRequest, err.Error())
			}

			path, err := targetPath(cmd.Flags(), entityPath)
			if err != nil {
				return wrapErr(http.StatusBadRequest, err.Error())
			}
			resp, reqErr := client.Do(cmd.Context(), http.MethodGet, path, nil, nil)
			return handle(runtime.Output(), stdout, resp, reqErr)
		},
	}
	addTargetFlags(getCmd, true)

	updateCmd := &cobra.Command{
		Use:     "update",
		Aliases: []string{"set", "edit"},
		Short:   "Change fields of an entity.",
		Long:    "Applies a partial change. A comment alone records a visible entry without touching fields.",
		Example: strings.TrimSpace(`tracker entity update -p alpha -k task -i 1 --version 1 --set status=Done
tracker item set -p alpha -k task -i 1 --version 2 --comment "Looks good @bo"
tracker item set -p alpha -k task -i 1 --version 3 --unset blocked_note`),
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := common.NewClient(runtime)
			if err != nil {
				return wrapErr(http.StatusBadRequest, err.Error())
			}

			version, _ := cmd.Flags().GetInt("version")
			body, err := patchBody(cmd.Flags())
			if err != nil {
				return wrapErr(http.StatusBadRequest, err.Error())
			}
			body["version"] = version

			path, err := targetPath(cmd.Flags(), entityPath)
			if err != nil {
				return wrapErr(http.StatusBadRequest, err.Error())
			}
			resp, reqErr := client.Do(cmd.Context(), http.MethodPatch, path, nil, body)
			return handle(runtime.Output(), stdout, resp, reqErr)
		},
	}
	addTargetFlags(updateCmd, true)
	addPatchFlags(updateCmd)
	updateCmd.Flags().Int("version", 0, "Version last read by the caller")
	_ = updateCmd.MarkFlagRequired("version")

	deleteCmd := &cobra.Command{
		Use:     "delete",
		Aliases: []string{"rm", "remove"},
		Short:   "Delete an entity.",
		Long:    "Records a final delete entry. Nothing can be appended to the entity afterwards.",
		Example: strings.TrimSpace(`tracker entity delete -p alpha -k task -i 1 --version 4
tracker item rm -p alpha -k task -i 1 --version 4 --comment "duplicate"`),
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := common.NewClient(runtime)
			if err != nil {
				return wrapErr(http.StatusBadRequest, err.Error())
			}

			version, _ := cmd.Flags().GetInt("version")
			comment, _ := cmd.Flags().GetString("comment")
			var commentParam any
			if value := strings.TrimSpace(comment); value != "" {
				commentParam = value
			}

			path, err := targetPath(cmd.Flags(), entityPath)
			if err != nil {
				return wrapErr(http.StatusBadRequest, err.Error())
			}
			query, err := common.Query(common.P("version", version), common.P("comment", commentParam))
			if err != nil {
				return wrapErr(http.StatusBadRequest, err.Error())
			}
			resp, reqErr := client.Do(cmd.Context(), http.MethodDelete, path, query, nil)
			return handle(runtime.Output(), stdout, resp, reqErr)
		},
	}
	addTargetFlags(deleteCmd, true)
	deleteCmd.Flags().Int("version", 0, "Version last read by the caller")
	deleteCmd.Flags().StringP("comment", "c", "", "Comment stored with the delete entry")
	_ = deleteCmd.MarkFlagRequired("version")

	entityCmd.AddCommand(createCmd, getCmd, updateCmd, deleteCmd, watcherCommand(runtime, stdout, handle, wrapErr, true), watcherCommand(runtime, stdout, handle, wrapErr, false))
	return entityCmd
}

func watcherCommand(runtime common.Runtime, stdout io.Writer, handle common.HandleResponseFunc, wrapErr common.WrapErrorFunc, add bool) *cobra.Command {
	use, short, method := "watch", "Add a watcher.", http.MethodPost
	if !add {
		use, short, method = "unwatch", "Remove a watcher.", http.MethodDelete
	}

	cmd := &cobra.Command{
		Use:     use,
		Short:   short,
		Example: fmt.Sprintf("tracker entity %s -p alpha -k task -i 1 --user 2", use),
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := common.NewClient(runtime)
			if err != nil {
				return wrapErr(http.StatusBadRequest, err.Error())
			}

			user, _ := cmd.Flags().GetInt64("user")
			path, err := targetPath(cmd.Flags(), entityPath+"/watchers/{user}", common.P("user", user))
			if err != nil {
				return wrapErr(http.StatusBadRequest, err.Error())
			}
			resp, reqErr := client.Do(cmd.Context(), method, path, nil, nil)
			return handle(runtime.Output(), stdout, resp, reqErr)
		},
	}
	addTargetFlags(cmd, true)
	cmd.Flags().Int64("user", 0, "Watching user id")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func addTargetFlags(cmd *cobra.Command, withID bool) {
	cmd.Flags().StringP("project", "p", "", "Project slug")
	cmd.Flags().StringP("kind", "k", "", "Entity kind")
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("kind")
	if withID {
		cmd.Flags().Int64P("id", "i", 0, "Entity id")
		_ = cmd.MarkFlagRequired("id")
	}
}

func addPatchFlags(cmd *cobra.Command) {
	cmd.Flags().StringArray("set", nil, "Set a field as key=value (repeatable)")
	cmd.Flags().StringArray("unset", nil, "Remove a field (repeatable)")
	cmd.Flags().String("fields-json", "", "JSON object merged into fields; null removes")
	cmd.Flags().Int64Slice("assign", nil, "Assigned user ids; replaces the current set")
	cmd.Flags().Int64("owner", 0, "Owner user id")
	cmd.Flags().StringP("comment", "c", "", "Comment stored with the entry")
}

// targetPath resolves project, kind and id flags into template.
func targetPath(flags *pflag.FlagSet, template string, extra ...common.Param) (string, error) {
	project, _ := flags.GetString("project")
	kind, _ := flags.GetString("kind")
	id, _ := flags.GetInt64("id")
	params := append([]common.Param{
		common.P("project", strings.TrimSpace(project)),
		common.P("kind", strings.TrimSpace(kind)),
		common.P("id", id),
	}, extra...)
	return common.Path(template, params...)
}

func patchBody(flags *pflag.FlagSet) (map[string]any, error) {
	fields := map[string]any{}

	if raw, _ := flags.GetString("fields-json"); strings.TrimSpace(raw) != "" {
		if err := json.Unmarshal([]byte(raw), &fields); err != nil {
			return nil, fmt.Errorf("--fields-json: %w", err)
		}
	}
	sets, _ := flags.GetStringArray("set")
	for _, kv := range sets {
		key, value, ok := strings.Cut(kv, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("--set expects key=value, got %q", kv)
		}
		fields[key] = value
	}
	unsets, _ := flags.GetStringArray("unset")
	for _, key := range unsets {
		fields[strings.TrimSpace(key)] = nil
	}

	body := map[string]any{}
	if len(fields) > 0 {
		body["fields"] = fields
	}
	if flags.Changed("assign") {
		assigned, _ := flags.GetInt64Slice("assign")
		if assigned == nil {
			assigned = []int64{}
		}
		body["assigned_users"] = assigned
	}
	if owner, _ := flags.GetInt64("owner"); owner > 0 {
		body["owner"] = owner
	}
	if comment, _ := flags.GetString("comment"); strings.TrimSpace(comment) != "" {
		body["comment"] = comment
	}
	return body, nil
}
