package codec

import (
	"strings"
	"time"
)

// kv is one ordered attribute. The tool reads descriptors positionally in
// places, so attribute order is part of the contract and maps are out.
type kv struct {
	k, v string
}

// docBuilder assembles a descriptor by direct string construction with
// single-quoted attributes. A regular XML encoder cannot produce this
// dialect, so the builder stays bespoke.
type docBuilder struct {
	b strings.Builder
}

func (d *docBuilder) header(company string, now time.Time) {
	d.b.WriteString("<?xml version='1.0'?>\n")
	d.b.WriteString("<!--Génération par ")
	d.b.WriteString(generatorName(company))
	d.b.WriteString(" le ")
	d.b.WriteString(now.Format("02-01-2006 15:04"))
	d.b.WriteString("-->\n")
}

func (d *docBuilder) prologUTF8() {
	d.b.WriteString("<?xml version='1.0' encoding='UTF-8'?>\n")
}

func (d *docBuilder) open(name string, attrs ...kv) {
	d.b.WriteByte('<')
	d.b.WriteString(name)
	d.writeAttrs(attrs)
	d.b.WriteByte('>')
}

func (d *docBuilder) selfClose(name string, attrs ...kv) {
	d.b.WriteByte('<')
	d.b.WriteString(name)
	d.writeAttrs(attrs)
	d.b.WriteString("/>")
}

func (d *docBuilder) close(name string) {
	d.b.WriteString("</")
	d.b.WriteString(name)
	d.b.WriteByte('>')
}

func (d *docBuilder) writeAttrs(attrs []kv) {
	for _, a := range attrs {
		d.b.WriteByte(' ')
		d.b.WriteString(a.k)
		d.b.WriteString("='")
		d.b.WriteString(escapeValue(a.v))
		d.b.WriteByte('\'')
	}
}

func (d *docBuilder) String() string {
	return d.b.String()
}

// generatorName is the short name stamped in the descriptor comment, the
// first word of the configured company name.
func generatorName(company string) string {
	fields := strings.Fields(company)
	if len(fields) == 0 {
		return "ERP"
	}
	return fields[0]
}
