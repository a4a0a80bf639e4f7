package configimage

// Protocol is a Port's transport protocol.
type Protocol string

const (
	ProtocolTCP Protocol = "TCP"
	ProtocolUDP Protocol = "UDP"
)

// Argument is a tagged variant: String, Port, FileVariable, or StringVariable.
type Argument struct {
	Kind           ArgumentKind
	String         string
	Port           Port
	FileVariable   FileVariable
	StringVariable StringVariable
}

type ArgumentKind int

const (
	ArgumentString ArgumentKind = iota
	ArgumentPort
	ArgumentFileVariable
	ArgumentStringVariable
)

// Port is a named container port.
type Port struct {
	Name     string
	Number   uint16
	Protocol Protocol
}

// FileVariable is a secret-backed file mounted into the container.
type FileVariable struct {
	Name string
	Path string
}

// StringVariable is a secret-backed environment variable.
type StringVariable struct {
	Name string
}

// ArgumentValues is either Uniform (one Argument) or Varying (a map keyed
// by environment selector).
type ArgumentValues struct {
	Uniform *Argument
	Varying map[string]Argument
}

// Resolve picks the concrete Argument for selector. Uniform values ignore
// the selector; Varying values return (Argument{}, false) when no entry
// matches selector — the documented way to conditionally omit an argument.
func (v ArgumentValues) Resolve(selector string) (Argument, bool) {
	if v.Uniform != nil {
		return *v.Uniform, true
	}
	arg, ok := v.Varying[selector]
	return arg, ok
}

// Resources holds request/limit maps rendered through the same argument
// pipeline as args/env, eventually cast to Quantity strings.
type Resources struct {
	Requests map[string]ArgumentValues
	Limits   map[string]ArgumentValues
}

// Application is the abstract output of evaluating a configuration program.
type Application struct {
	Args      []ArgumentValues
	Env       map[string]ArgumentValues
	Resources Resources
}

// Index is the configuration-image manifest found at the root of the
// unpacked image.
type Index struct {
	BinaryRepository string `json:"binary_repository"`
	BinaryDigest     string `json:"binary_digest"`
	ConfigEntrypoint string `json:"config_entrypoint"`
}
