package commands

import (
	"bytes"
	"fmt"
	"path/filepath"
	"regexp"
	"text/template"

	"github.com/spf13/cobra"

	"github.com/wpkernel/wpkernel-sub000/pkg/config"
	"github.com/wpkernel/wpkernel-sub000/pkg/engine"
	"github.com/wpkernel/wpkernel-sub000/pkg/workspace"
)

const initLabel = "init"

var namespacePattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

var configTemplate = template.Must(template.New("wpk.config.cue").Parse(`version:   1
namespace: "{{.Namespace}}"

schemas: {{.Resource}}: path: "schemas/{{.Resource}}.schema.json"

resources: {{.Resource}}: {
	schema: "{{.Resource}}"
	identity: {type: "number", param: "id"}
	routes: {
		list:   {path: "/{{.Namespace}}/v1/{{.Resource}}s", method: "GET"}
		get:    {path: "/{{.Namespace}}/v1/{{.Resource}}s/(?P<id>\\d+)", method: "GET"}
		create: {path: "/{{.Namespace}}/v1/{{.Resource}}s", method: "POST", capability: "{{.Resource}}.manage"}
	}
	capabilities: "{{.Resource}}.manage": "manage_options"
}
`))

var schemaTemplate = template.Must(template.New("schema").Parse(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "title": "{{.Resource}}",
  "type": "object",
  "required": ["id", "title"],
  "properties": {
    "id": {"type": "integer"},
    "title": {"type": "string"}
  }
}
`))

func newInitCommand() *cobra.Command {
	var (
		namespace string
		resource  string
		force     bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Scaffold a wpk project in the workspace",
		Long: `Write a starter wpk.config.cue with one resource and its JSON schema,
and create the run history database.

Refuses to overwrite an existing configuration unless --force is given.`,
		Example: `  wpk init --namespace acme-jobs --resource job`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if !namespacePattern.MatchString(namespace) {
				return engine.NewValidationError(fmt.Sprintf("namespace %q must be kebab case", namespace), nil)
			}
			if !namespacePattern.MatchString(resource) {
				return engine.NewValidationError(fmt.Sprintf("resource %q must be kebab case", resource), nil)
			}

			ws, err := workspace.New(workDir)
			if err != nil {
				return err
			}
			if !force {
				if existing, err := existingConfig(ws); err != nil {
					return err
				} else if existing != "" {
					return engine.NewValidationError(existing+" already exists; rerun with --force to overwrite", nil)
				}
			}

			data := struct{ Namespace, Resource string }{namespace, resource}
			schemaPath := filepath.ToSlash(filepath.Join("schemas", resource+".schema.json"))
			files := map[string]*template.Template{
				config.Candidates[0]: configTemplate,
				schemaPath:           schemaTemplate,
			}

			if err := ws.Begin(initLabel); err != nil {
				return err
			}
			for path, tmpl := range files {
				var buf bytes.Buffer
				if err := tmpl.Execute(&buf, data); err != nil {
					_ = ws.Rollback(initLabel)
					return engine.NewUnexpectedError("failed to render "+path, err)
				}
				if err := ws.Write(path, buf.Bytes(), workspace.WriteOptions{EnsureDir: true}); err != nil {
					_ = ws.Rollback(initLabel)
					return err
				}
			}
			changes, err := ws.Commit(initLabel)
			if err != nil {
				return err
			}

			// The project exists now, so the usual environment can be set up.
			e, err := newEnv(cmd)
			if err != nil {
				return err
			}
			defer e.close(ctx)
			store, err := e.openStore(ctx)
			if err != nil {
				return err
			}
			closeStore(store)

			for _, path := range changes.Writes {
				fmt.Fprintf(e.out, "  created %s\n", path)
			}
			fmt.Fprintln(e.out, "\nRun wpk generate to build the project.")
			return nil
		},
	}

	cmd.Flags().StringVar(&namespace, "namespace", "", "project namespace in kebab case (required)")
	cmd.Flags().StringVar(&resource, "resource", "item", "name of the starter resource")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing configuration")
	_ = cmd.MarkFlagRequired("namespace")

	return cmd
}

// existingConfig returns the first configuration candidate present in ws.
func existingConfig(ws *workspace.Workspace) (string, error) {
	for _, name := range config.Candidates {
		ok, err := ws.Exists(name)
		if err != nil {
			return "", err
		}
		if ok {
			return name, nil
		}
	}
	return "", nil
}
