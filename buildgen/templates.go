package buildgen

import "text/template"

var thirdPartyTemplate = template.Must(template.New("BUILD").Parse(`load('{{.RulesFile}}', 'external_npm_module')
{{range .Modules}}
external_npm_module(
    name = '{{.Label}}',
    tarball = '@{{.Rule}}//file',
{{- if .Deps}}
    runtime_deps = [
{{- range .Deps}}
        '@{{.}}//file',
{{- end}}
    ],
{{- end}}
    visibility = ['//visibility:public'],
)
{{end}}`))

var workspaceTemplate = template.Must(template.New("WORKSPACE").Parse(`load('@bazel_tools//tools/build_defs/repo:http.bzl', 'http_file')
{{range .}}
http_file(
    name = '{{.Rule}}',
    urls = ['{{.URL}}'],
{{- if .Integrity}}
    integrity = '{{.Integrity}}',
{{- end}}
)
{{end}}`))

var internalTemplate = template.Must(template.New("internal BUILD").Parse(`load('{{.RulesFile}}', 'internal_npm_module')

internal_npm_module(
    name = '{{.Name}}',
    srcs = glob(['**'], exclude = ['node_modules/**', 'target/**']),
    package_json = 'package.json',
    deps = [
{{- range .Deps}}
        '{{.}}',
{{- end}}
    ],
    dev_deps = [
{{- range .DevDeps}}
        '{{.}}',
{{- end}}
    ],
    visibility = ['//visibility:public'],
)
`))
