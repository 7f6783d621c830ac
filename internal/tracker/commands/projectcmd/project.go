package projectcmd

import (
	"io"
	"net/http"
	"strings"

	"github.com/simonjohansson/tracker/internal/tracker/commands/common"
	"github.com/spf13/cobra"
)

func New(runtime common.Runtime, stdout io.Writer, handle common.HandleResponseFunc, wrapErr common.WrapErrorFunc) *cobra.Command {
	projectCmd := &cobra.Command{
		Use:     "project",
		Aliases: []string{"projects", "proj"},
		Short:   "Manage projects.",
		Long:    "Create and inspect projects and their members.",
	}

	createCmd := &cobra.Command{
		Use:     "create",
		Aliases: []string{"new"},
		Short:   "Create a project.",
		Long:    "Create a project with a unique slug and display name.",
		Example: strings.TrimSpace(`tracker project create --slug alpha --name "Alpha"
tracker proj new -s alpha -n "Alpha"`),
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := common.NewClient(runtime)
			if err != nil {
				return wrapErr(http.StatusBadRequest, err.Error())
			}

			slug, _ := cmd.Flags().GetString("slug")
			name, _ := cmd.Flags().GetString("name")
			body := map[string]any{"slug": strings.TrimSpace(slug), "name": strings.TrimSpace(name)}

			resp, reqErr := client.Do(cmd.Context(), http.MethodPost, "/projects", nil, body)
			return handle(runtime.Output(), stdout, resp, reqErr)
		},
	}
	createCmd.Flags().StringP("slug", "s", "", "Project slug")
	createCmd.Flags().StringP("name", "n", "", "Project display name")
	_ = createCmd.MarkFlagRequired("slug")
	_ = createCmd.MarkFlagRequired("name")

	getCmd := &cobra.Command{
		Use:     "get <project-slug>",
		Aliases: []string{"show"},
		Short:   "Get one project.",
		Args:    cobra.ExactArgs(1),
		Example: strings.TrimSpace(`tracker project get alpha`),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := common.NewClient(runtime)
			if err != nil {
				return wrapErr(http.StatusBadRequest, err.Error())
			}

			path, err := common.Path("/projects/{project}", common.P("project", strings.TrimSpace(args[0])))
			if err != nil {
				return wrapErr(http.StatusBadRequest, err.Error())
			}
			resp, reqErr := client.Do(cmd.Context(), http.MethodGet, path, nil, nil)
			return handle(runtime.Output(), stdout, resp, reqErr)
		},
	}

	memberCmd := &cobra.Command{
		Use:     "add-member",
		Aliases: []string{"member"},
		Short:   "Add a user to a project.",
		Long:    "Make a user a project member, optionally with a role. Only members can be assigned, watch or be notified.",
		Example: strings.TrimSpace(`tracker project add-member -p alpha --user 2
tracker proj member -p alpha --user 2 --role 1`),
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := common.NewClient(runtime)
			if err != nil {
				return wrapErr(http.StatusBadRequest, err.Error())
			}

			project, _ := cmd.Flags().GetString("project")
			user, _ := cmd.Flags().GetInt64("user")
			role, _ := cmd.Flags().GetInt64("role")

			path, err := common.Path("/projects/{project}/members/{user}", common.P("project", strings.TrimSpace(project)), common.P("user", user))
			if err != nil {
				return wrapErr(http.StatusBadRequest, err.Error())
			}
			var body any
			if role > 0 {
				body = map[string]any{"role_id": role}
			}
			resp, reqErr := client.Do(cmd.Context(), http.MethodPut, path, nil, body)
			return handle(runtime.Output(), stdout, resp, reqErr)
		},
	}
	memberCmd.Flags().StringP("project", "p", "", "Project slug")
	memberCmd.Flags().Int64("user", 0, "User id")
	memberCmd.Flags().Int64("role", 0, "Optional role id")
	_ = memberCmd.MarkFlagRequired("project")
	_ = memberCmd.MarkFlagRequired("user")

	projectCmd.AddCommand(createCmd, getCmd, memberCmd)
	return projectCmd
}

func NewUser(runtime common.Runtime, stdout io.Writer, handle common.HandleResponseFunc, wrapErr common.WrapErrorFunc) *cobra.Command {
	userCmd := &cobra.Command{
		Use:     "user",
		Aliases: []string{"users"},
		Short:   "Manage users.",
	}

	createCmd := &cobra.Command{
		Use:     "create",
		Aliases: []string{"new"},
		Short:   "Create a user.",
		Example: strings.TrimSpace(`tracker user create --username ana --full-name "Ana Lopez" --email ana@example.com`),
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := common.NewClient(runtime)
			if err != nil {
				return wrapErr(http.StatusBadRequest, err.Error())
			}

			username, _ := cmd.Flags().GetString("username")
			fullName, _ := cmd.Flags().GetString("full-name")
			email, _ := cmd.Flags().GetString("email")
			body := map[string]any{"username": strings.TrimSpace(username)}
			if value := strings.TrimSpace(fullName); value != "" {
				body["full_name"] = value
			}
			if value := strings.TrimSpace(email); value != "" {
				body["email"] = value
			}

			resp, reqErr := client.Do(cmd.Context(), http.MethodPost, "/users", nil, body)
			return handle(runtime.Output(), stdout, resp, reqErr)
		},
	}
	createCmd.Flags().String("username", "", "Unique username")
	createCmd.Flags().String("full-name", "", "Display name")
	createCmd.Flags().String("email", "", "Address for notification mail")
	_ = createCmd.MarkFlagRequired("username")

	getCmd := &cobra.Command{
		Use:     "get <user-id>",
		Aliases: []string{"show"},
		Short:   "Get one user.",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := common.NewClient(runtime)
			if err != nil {
				return wrapErr(http.StatusBadRequest, err.Error())
			}

			path, err := common.Path("/users/{user}", common.P("user", strings.TrimSpace(args[0])))
			if err != nil {
				return wrapErr(http.StatusBadRequest, err.Error())
			}
			resp, reqErr := client.Do(cmd.Context(), http.MethodGet, path, nil, nil)
			return handle(runtime.Output(), stdout, resp, reqErr)
		},
	}

	userCmd.AddCommand(createCmd, getCmd)
	return userCmd
}
