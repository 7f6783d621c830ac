package webhookcmd

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/simonjohansson/tracker/internal/tracker/commands/common"
	"github.com/spf13/cobra"
)

func New(runtime common.Runtime, stdout io.Writer, handle common.HandleResponseFunc, wrapErr common.WrapErrorFunc) *cobra.Command {
	webhookCmd := &cobra.Command{
		Use:     "webhook",
		Aliases: []string{"webhooks", "hook"},
		Short:   "Manage project webhooks.",
		Long: strings.TrimSpace(`Webhooks receive a signed JSON payload for every visible change.
X-Taiga-Webhook-Signature carries the HMAC-SHA1 of the body keyed with --key.`),
	}

	// byID builds a command acting on /<prefix>/{id}<suffix>.
	byID := func(use, short, method, template string, withBody func(cmd *cobra.Command) (any, error)) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				client, err := common.NewClient(runtime)
				if err != nil {
					return wrapErr(http.StatusBadRequest, err.Error())
				}

				id, err := strconv.ParseInt(strings.TrimSpace(args[0]), 10, 64)
				if err != nil {
					return wrapErr(http.StatusBadRequest, "id must be an integer")
				}
				path, err := common.Path(template, common.P("id", id))
				if err != nil {
					return wrapErr(http.StatusBadRequest, err.Error())
				}
				var body any
				if withBody != nil {
					if body, err = withBody(cmd); err != nil {
						return wrapErr(http.StatusBadRequest, err.Error())
					}
				}
				resp, reqErr := client.Do(cmd.Context(), method, path, nil, body)
				return handle(runtime.Output(), stdout, resp, reqErr)
			},
		}
	}

	createCmd := &cobra.Command{
		Use:     "create",
		Aliases: []string{"new"},
		Short:   "Register a webhook for a project.",
		Example: strings.TrimSpace(`tracker webhook create -p alpha --name ci --url https://ci.example.com/hook --key s3cret`),
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := common.NewClient(runtime)
			if err != nil {
				return wrapErr(http.StatusBadRequest, err.Error())
			}

			project, _ := cmd.Flags().GetString("project")
			path, err := common.Path("/projects/{project}/webhooks", common.P("project", strings.TrimSpace(project)))
			if err != nil {
				return wrapErr(http.StatusBadRequest, err.Error())
			}
			resp, reqErr := client.Do(cmd.Context(), http.MethodPost, path, nil, webhookFields(cmd))
			return handle(runtime.Output(), stdout, resp, reqErr)
		},
	}
	createCmd.Flags().StringP("project", "p", "", "Project slug")
	addWebhookFlags(createCmd)
	for _, name := range []string{"project", "name", "url", "key"} {
		_ = createCmd.MarkFlagRequired(name)
	}

	listCmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List a project's webhooks.",
		Example: strings.TrimSpace(`tracker webhook ls -p alpha`),
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := common.NewClient(runtime)
			if err != nil {
				return wrapErr(http.StatusBadRequest, err.Error())
			}

			project, _ := cmd.Flags().GetString("project")
			path, err := common.Path("/projects/{project}/webhooks", common.P("project", strings.TrimSpace(project)))
			if err != nil {
				return wrapErr(http.StatusBadRequest, err.Error())
			}
			resp, reqErr := client.Do(cmd.Context(), http.MethodGet, path, nil, nil)
			return handle(runtime.Output(), stdout, resp, reqErr)
		},
	}
	listCmd.Flags().StringP("project", "p", "", "Project slug")
	_ = listCmd.MarkFlagRequired("project")

	getCmd := byID("get <webhook-id>", "Get one webhook.", http.MethodGet, "/webhooks/{id}", nil)

	updateCmd := byID("update <webhook-id>", "Change name, url or key.", http.MethodPatch, "/webhooks/{id}", func(cmd *cobra.Command) (any, error) {
		return webhookFields(cmd), nil
	})
	addWebhookFlags(updateCmd)

	deleteCmd := byID("delete <webhook-id>", "Delete a webhook and its logs.", http.MethodDelete, "/webhooks/{id}", nil)
	deleteCmd.Aliases = []string{"rm", "remove"}

	logsCmd := byID("logs <webhook-id>", "Show the most recent delivery logs.", http.MethodGet, "/webhooks/{id}/logs", nil)

	testCmd := byID("test <webhook-id>", "Send a test payload now.", http.MethodPost, "/webhooks/{id}/test", nil)
	testCmd.Example = "tracker webhook test 1 --output json"

	resendCmd := byID("resend <log-id>", "Send a logged request again.", http.MethodPost, "/webhook-logs/{id}/resend", nil)

	webhookCmd.AddCommand(createCmd, listCmd, getCmd, updateCmd, deleteCmd, logsCmd, testCmd, resendCmd)
	return webhookCmd
}

func NewDelivery(runtime common.Runtime, stdout io.Writer, handle common.HandleResponseFunc, wrapErr common.WrapErrorFunc) *cobra.Command {
	deliveryCmd := &cobra.Command{
		Use:     "delivery",
		Aliases: []string{"deliveries", "outbox"},
		Short:   "Inspect and retry queued mail and webhook deliveries.",
	}

	listCmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List deliveries.",
		Example: strings.TrimSpace(`tracker delivery ls --state dead
tracker outbox ls --entry 0190c2a4-...`),
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := common.NewClient(runtime)
			if err != nil {
				return wrapErr(http.StatusBadRequest, err.Error())
			}

			params := make([]common.Param, 0, 2)
			for _, name := range []string{"entry", "state"} {
				if value, _ := cmd.Flags().GetString(name); strings.TrimSpace(value) != "" {
					params = append(params, common.P(name, strings.TrimSpace(value)))
				}
			}
			query, err := common.Query(params...)
			if err != nil {
				return wrapErr(http.StatusBadRequest, err.Error())
			}
			resp, reqErr := client.Do(cmd.Context(), http.MethodGet, "/deliveries", query, nil)
			return handle(runtime.Output(), stdout, resp, reqErr)
		},
	}
	listCmd.Flags().String("entry", "", "Only deliveries for this history entry id")
	listCmd.Flags().String("state", "", "pending|inflight|success|failed|retry_scheduled|dead")

	retryCmd := &cobra.Command{
		Use:   "retry <delivery-id>",
		Short: "Schedule a dead delivery again.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := common.NewClient(runtime)
			if err != nil {
				return wrapErr(http.StatusBadRequest, err.Error())
			}

			id, err := strconv.ParseInt(strings.TrimSpace(args[0]), 10, 64)
			if err != nil {
				return wrapErr(http.StatusBadRequest, "id must be an integer")
			}
			path, err := common.Path("/deliveries/{id}/retry", common.P("id", id))
			if err != nil {
				return wrapErr(http.StatusBadRequest, err.Error())
			}
			resp, reqErr := client.Do(cmd.Context(), http.MethodPost, path, nil, nil)
			return handle(runtime.Output(), stdout, resp, reqErr)
		},
	}

	deliveryCmd.AddCommand(listCmd, retryCmd)
	return deliveryCmd
}

func addWebhookFlags(cmd *cobra.Command) {
	cmd.Flags().String("name", "", "Webhook name")
	cmd.Flags().String("url", "", "Target URL")
	cmd.Flags().String("key", "", "Signing key")
}

// webhookFields holds only the flags the caller set.
func webhookFields(cmd *cobra.Command) map[string]any {
	body := map[string]any{}
	for _, name := range []string{"name", "url", "key"} {
		if !cmd.Flags().Changed(name) {
			continue
		}
		value, _ := cmd.Flags().GetString(name)
		body[name] = strings.TrimSpace(value)
	}
	return body
}
