package codec

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/granitex/quotebridge/internal/quote"
)

// ReplyMeta carries the metadata block of a tool reply. The tool echoes the
// workbook path it actually used, which can differ from the one requested.
type ReplyMeta struct {
	TargetPath string
}

// Reply is a decoded tool response: the priced line items plus metadata.
type Reply struct {
	Lines []quote.Line
	Meta  ReplyMeta
}

// Total sums the external line totals.
func (r *Reply) Total() float64 {
	var total float64
	for _, ln := range r.Lines {
		total += ln.TotalPrice
	}
	return total
}

// DecodeReply parses a reply document. The tool emits several casings of
// the same element names and renames attributes between releases, so
// matching is case-insensitive and attribute lookup goes through normalized
// synonym lists. A reply with no line rows decodes to an empty slice; only
// a document the XML parser cannot read at all is an error.
func DecodeReply(r io.Reader) (*Reply, error) {
	root, err := parseTree(r)
	if err != nil {
		return nil, fmt.Errorf("unreadable reply: %w", err)
	}

	gen := root.find("generation")
	if gen == nil {
		gen = root
	}

	reply := &Reply{}
	if meta := gen.find("meta"); meta != nil {
		reply.Meta.TargetPath = attrValue(meta.attrs, "cible")
	}

	devis := gen.find("devis")
	if devis == nil {
		return reply, nil
	}

	rows := lineRows(devis)
	for _, row := range rows {
		reply.Lines = append(reply.Lines, lineFromAttrs(row.attrs))
	}
	reply.Lines = dedupLines(reply.Lines)
	return reply, nil
}

// lineRows returns the row elements: <externe><ligne> in any casing, with
// the legacy <pierre> child as fallback when no row collection exists.
func lineRows(devis *element) []*element {
	if ext := devis.find("externe"); ext != nil {
		if rows := ext.findAll("ligne"); len(rows) > 0 {
			return rows
		}
	}
	return devis.findAll("pierre")
}

// Attribute synonym lists, newest naming first. The normalized form makes
// "Long.net", "LONG NET" and "LongNet" the same key.
var (
	synTag         = []string{"TAG", "No"}
	synNo          = []string{"No", "NL"}
	synRef         = []string{"Ref", "Reference", "Reference_client"}
	synProduct     = []string{"Item", "PDT", "Produit", "step"}
	synDescription = []string{"Description", "nom", "couleur"}
	synMaterial    = []string{"GRANITE", "material", "materiau"}
	synUnit        = []string{"Unité", "Unite", "Unit"}

	synQty       = []string{"QTY", "quantite", "qte"}
	synLength    = []string{"Longeur", "length"}
	synWidth     = []string{"Largeur", "Width", "Deep"}
	synThickness = []string{"Epaisseur", "thickness"}

	synNetLength = []string{"Long.net", "Longeur_net", "NetLength"}
	synNetArea   = []string{"Surface_net", "NetArea"}
	synNetVolume = []string{"Vol_Tot", "Volume_net", "NetVolume"}
	synWeight    = []string{"Poid_Tot", "Poids", "Weight"}

	synUnitPrice     = []string{"Prix_unitaire_externe", "PU_Externe", "Prix"}
	synTotalPrice    = []string{"Prix_externe", "Total_Externe", "Total"}
	synUnitPriceInt  = []string{"Prix_unitaire_interne", "PU_Interne", "Prix_CAD"}
	synTotalPriceInt = []string{"Prix_interne", "Total_Interne", "Total_CAD"}

	synStoneValue = []string{"valeurPierre", "Valeur_pierre"}
	synPrimarySaw = []string{"scPrimaire", "Cout_sciage_primaire"}
	synSecondSaw  = []string{"scSecondaire", "Cout_sciage_secondaire"}
	synProfiling  = []string{"profilage", "Cout_profilage"}
	synFinishing  = []string{"Finition", "Cout_finition"}
	synAnchoring  = []string{"Ancrage", "Cout_ancrage"}
	synUnitTime   = []string{"tempsUnitaire"}
	synTotalTime  = []string{"tempsTotal"}
)

func lineFromAttrs(attrs []xml.Attr) quote.Line {
	lookup := make(map[string]string, len(attrs))
	for _, a := range attrs {
		key := normalizeKey(a.Name.Local)
		if _, exists := lookup[key]; !exists || a.Value != "" {
			lookup[key] = a.Value
		}
	}
	get := func(syns []string) string {
		for _, s := range syns {
			if v, ok := lookup[normalizeKey(s)]; ok && v != "" {
				return v
			}
		}
		return ""
	}
	num := func(syns []string) float64 {
		return ParseDecimal(get(syns))
	}

	tag := get(synTag)
	if tag == "" {
		tag = "Ligne"
	}

	desc := get(synDescription)
	product := get(synProduct)
	if desc == "" || desc == "A renseigner" || len(product) > len(desc) {
		if product != "" {
			desc = product
		}
	}

	ln := quote.Line{
		Tag:         tag,
		No:          get(synNo),
		Ref:         get(synRef),
		Product:     product,
		Description: desc,
		Material:    get(synMaterial),
		Unit:        cleanUnit(get(synUnit)),

		Quantity:  num(synQty),
		Length:    num(synLength),
		Width:     num(synWidth),
		Thickness: num(synThickness),

		NetLength:   num(synNetLength),
		NetArea:     num(synNetArea),
		NetVolume:   num(synNetVolume),
		TotalWeight: num(synWeight),

		UnitPrice:          num(synUnitPrice),
		TotalPrice:         num(synTotalPrice),
		UnitPriceInternal:  num(synUnitPriceInt),
		TotalPriceInternal: num(synTotalPriceInt),

		StoneValue:          num(synStoneValue),
		PrimarySawingCost:   num(synPrimarySaw),
		SecondarySawingCost: num(synSecondSaw),
		ProfilingCost:       num(synProfiling),
		FinishingCost:       num(synFinishing),
		AnchoringCost:       num(synAnchoring),

		UnitTime:  num(synUnitTime),
		TotalTime: num(synTotalTime),
	}

	// Some tool releases omit the row total.
	if ln.TotalPrice == 0 && ln.Quantity > 0 && ln.UnitPrice > 0 {
		ln.TotalPrice = ln.Quantity * ln.UnitPrice
	}
	return ln
}

// dedupLines keeps one row per tag. The tool sometimes emits a summary row
// and a detail row under the same tag; the row whose net length plus stone
// value sums higher wins, first occurrence on a tie.
func dedupLines(lines []quote.Line) []quote.Line {
	if len(lines) < 2 {
		return lines
	}
	byTag := make(map[string]int, len(lines))
	var out []quote.Line
	for _, ln := range lines {
		idx, seen := byTag[ln.Tag]
		if !seen {
			byTag[ln.Tag] = len(out)
			out = append(out, ln)
			continue
		}
		if lineScore(ln) > lineScore(out[idx]) {
			out[idx] = ln
		}
	}
	return out
}

func lineScore(ln quote.Line) float64 {
	return ln.NetLength + ln.StoneValue
}

// cleanUnit strips the slash padding some releases wrap units in
// ("/ pi2 /" -> "pi2").
func cleanUnit(v string) string {
	v = strings.ReplaceAll(v, "/", "")
	return strings.TrimSpace(v)
}

// element is a minimal parsed node: replies are attribute-only, text
// content is discarded.
type element struct {
	name     string
	attrs    []xml.Attr
	children []*element
}

func (e *element) find(name string) *element {
	for _, c := range e.children {
		if strings.EqualFold(c.name, name) {
			return c
		}
	}
	return nil
}

func (e *element) findAll(name string) []*element {
	var out []*element
	for _, c := range e.children {
		if strings.EqualFold(c.name, name) {
			out = append(out, c)
		}
	}
	return out
}

func attrValue(attrs []xml.Attr, name string) string {
	for _, a := range attrs {
		if strings.EqualFold(a.Name.Local, name) {
			return a.Value
		}
	}
	return ""
}

// parseTree builds the element tree. Strict mode is off: replies carry
// undeclared entities and the occasional bare ampersand.
func parseTree(r io.Reader) (*element, error) {
	dec := xml.NewDecoder(r)
	dec.Strict = false

	root := &element{name: ""}
	stack := []*element{root}

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			el := &element{name: t.Name.Local, attrs: t.Attr}
			parent := stack[len(stack)-1]
			parent.children = append(parent.children, el)
			stack = append(stack, el)
		case xml.EndElement:
			if len(stack) > 1 {
				stack = stack[:len(stack)-1]
			}
		}
	}
	if len(root.children) == 0 {
		return nil, fmt.Errorf("no document element")
	}
	return root, nil
}
