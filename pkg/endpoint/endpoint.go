// Package endpoint describes the procurement API endpoints the extractor
// consumes. A Descriptor carries everything the paginator needs to sweep an
// endpoint: its path, pagination parameter names, page-size limits, and the
// filters the server insists on.
package endpoint

import (
	"errors"
	"fmt"
	"sort"
)

// DefaultBaseURL is the public procurement open-data API.
const DefaultBaseURL = "https://dadosabertos.compras.gov.br/"

// Page-size limits documented by the API.
const (
	MinPageSize = 10
	MaxPageSize = 500
)

// Pagination parameter names shared by every endpoint of the API.
const (
	ParamPage     = "pagina"
	ParamPageSize = "tamanhoPagina"
)

// ErrMissingFilter is returned when a required filter is absent.
// It is raised before any request is issued.
var ErrMissingFilter = errors.New("missing required filter")

// Descriptor is the per-endpoint configuration record.
type Descriptor struct {
	// Name identifies the entity type; used for logs, metrics and file names.
	Name string

	// Path is appended to the base URL.
	Path string

	// PageParam is the 1-based page index parameter.
	PageParam string

	// PageSizeParam is empty when the endpoint does not accept a page size.
	PageSizeParam string

	// MaxPageSize is the server-declared ceiling for PageSizeParam.
	MaxPageSize int

	// RequiredFilters must be present (after defaults are applied).
	RequiredFilters []string

	// DefaultFilters are applied unless the caller overrides them.
	DefaultFilters map[string]string

	// DateMinParam and DateMaxParam bind a date range; empty when the
	// endpoint cannot be stratified by date.
	DateMinParam string
	DateMaxParam string

	// DateField is the record field holding the date the range filters on.
	DateField string

	// KeyParam filters by a single entity code.
	KeyParam string

	// Batchable reports whether KeyParam accepts a comma-joined list.
	Batchable bool
}

// Contracts lists contracts by initial validity date.
var Contracts = Descriptor{
	Name:            "contratos",
	Path:            "modulo-contratos/1_consultarContratos",
	PageParam:       ParamPage,
	PageSizeParam:   ParamPageSize,
	MaxPageSize:     MaxPageSize,
	RequiredFilters: []string{"dataVigenciaInicialMin", "dataVigenciaInicialMax"},
	DateMinParam:    "dataVigenciaInicialMin",
	DateMaxParam:    "dataVigenciaInicialMax",
	DateField:       "dataVigenciaInicial",
}

// Units lists administrative units (UASG).
var Units = Descriptor{
	Name:            "uasg",
	Path:            "modulo-uasg/1_consultarUasg",
	PageParam:       ParamPage,
	PageSizeParam:   ParamPageSize,
	MaxPageSize:     MaxPageSize,
	RequiredFilters: []string{"statusUasg"},
	DefaultFilters:  map[string]string{"statusUasg": "true"},
	KeyParam:        "codigoUasg",
	Batchable:       true,
}

// Bodies lists government bodies (órgãos).
var Bodies = Descriptor{
	Name:            "orgao",
	Path:            "modulo-uasg/2_consultarOrgao",
	PageParam:       ParamPage,
	PageSizeParam:   ParamPageSize,
	MaxPageSize:     MaxPageSize,
	RequiredFilters: []string{"statusOrgao"},
	DefaultFilters:  map[string]string{"statusOrgao": "true"},
	KeyParam:        "codigoOrgao",
}

// Suppliers looks up suppliers by CPF (individuals) or CNPJ (organizations).
var Suppliers = Descriptor{
	Name:           "fornecedores",
	Path:           "modulo-fornecedor/1_consultarFornecedor",
	PageParam:      ParamPage,
	PageSizeParam:  ParamPageSize,
	MaxPageSize:    MaxPageSize,
	DefaultFilters: map[string]string{"ativo": "true"},
}

// Supplier lookup parameters by identifier format.
const (
	ParamCPF  = "cpf"
	ParamCNPJ = "cnpj"
)

// Filters returns the effective filters: defaults overlaid by the caller's.
// The caller's map is never modified.
func (d Descriptor) Filters(filters map[string]string) map[string]string {
	out := make(map[string]string, len(d.DefaultFilters)+len(filters))
	for k, v := range d.DefaultFilters {
		out[k] = v
	}
	for k, v := range filters {
		out[k] = v
	}
	return out
}

// Validate checks that every required filter is present and non-empty.
func (d Descriptor) Validate(filters map[string]string) error {
	var missing []string
	for _, name := range d.RequiredFilters {
		if filters[name] == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("%w for %s: %v", ErrMissingFilter, d.Name, missing)
	}
	return nil
}

// Stratifiable reports whether the endpoint exposes a date range.
func (d Descriptor) Stratifiable() bool {
	return d.DateMinParam != "" && d.DateMaxParam != ""
}

// ClampPageSize bounds n to the endpoint's accepted range.
func (d Descriptor) ClampPageSize(n int) int {
	ceiling := d.MaxPageSize
	if ceiling <= 0 {
		ceiling = MaxPageSize
	}
	if n > ceiling {
		return ceiling
	}
	if n < MinPageSize {
		return MinPageSize
	}
	return n
}
