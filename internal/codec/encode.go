package codec

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/granitex/quotebridge/internal/quote"
)

// Automation definition files the tool dispatches on. The missing extension
// on the pdf entry is part of the installed contract; do not "fix" it.
const (
	defCreate      = `C:\Travail\XML\CLAUTOMATEEMISSIONCOTATION.xml`
	defRevise      = `C:\Travail\XML\CLAUTOMATEREVISION.xml`
	defReintegrate = `C:\Travail\XML\CLAUTOMATEREINTEGRER.xml`
	defDuplicate   = `C:\Travail\XML\CLAUTOMATERECOPIER.xml`
	defPdf         = `C:\Travail\XML\CLAUTOMATEDEVISxml`

	templatePath = `H:\Modeles\Directe\Modele de cotation defaut.xlsx`
)

// Loading site address printed on every quote document.
const (
	siteCountry    = "CA"
	siteRegion     = "CA-QC"
	siteCity       = "Stanstead"
	siteStreet     = "210 Rue du Granit"
	sitePostalCode = "J0B3E0"
)

// Encoder builds tool descriptors. Paths are tool-native (Windows,
// backslash separated) regardless of the host the dispatcher runs on.
type Encoder struct {
	QuoteRoot   string // workbook tree, e.g. F:\nxerp
	PdfDir      string // pdf scratch dir, trailing backslash kept, e.g. F:\nxerppdf\
	CompanyName string
	LoadingSite string

	// Now is overridable for deterministic output in tests.
	Now func() time.Time
}

// Descriptor is one encoded handoff: the file the bridge drops into the
// exchange directory plus the tool-native paths the job revolves around.
type Descriptor struct {
	Filename   string // name in the exchange directory, .rak extension
	Content    string
	TargetPath string // where the tool writes or reads the workbook
	SourcePath string // original workbook for copy kinds, empty otherwise
}

func (e *Encoder) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Encode produces the descriptor for a quote according to its kind.
func (e *Encoder) Encode(q *quote.Quote) (*Descriptor, error) {
	switch q.Kind {
	case quote.KindCreate:
		return e.encodeCreate(q), nil
	case quote.KindReintegrate:
		return e.encodeReintegrate(q), nil
	case quote.KindRevise:
		return e.encodeRevise(q), nil
	case quote.KindDuplicate:
		return e.encodeDuplicate(q), nil
	case quote.KindPrintLabel:
		return e.encodePdf(q), nil
	default:
		return nil, fmt.Errorf("no descriptor shape for kind %q", q.Kind)
	}
}

// WorkbookName builds the Ref_Client_Project_Material base name shared by
// the workbook, the reintegration descriptor and the pdf companion. Empty
// components are dropped rather than leaving double underscores.
func WorkbookName(q *quote.Quote) string {
	parts := []string{
		SanitizeToken(q.Reference),
		SanitizeToken(q.Params.ClientName),
		SanitizeToken(q.Params.ProjectName),
		SanitizeToken(q.Params.MaterialName),
	}
	var kept []string
	for _, p := range parts {
		if strings.Trim(p, "_") != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "_")
}

// TargetPath is <root>\<Project>\<Ref_Client_Project_Material>.xlsx, every
// path segment sanitized the same way as the filename.
func (e *Encoder) TargetPath(q *quote.Quote) string {
	folder := SanitizeToken(q.Params.ProjectName)
	if strings.Trim(folder, "_") == "" {
		folder = "Projet"
	}
	return e.QuoteRoot + `\` + folder + `\` + WorkbookName(q) + ".xlsx"
}

func (e *Encoder) encodeCreate(q *quote.Quote) *Descriptor {
	p := q.Params
	lang := langCode(p.Language)
	target := e.TargetPath(q)
	now := e.now()

	var b docBuilder
	b.header(e.CompanyName, now)
	b.open("generation", kv{"type", "Soumission"})
	b.open("meta",
		kv{"cible", target},
		kv{"Langue", lang},
		kv{"action", "emcot"},
		kv{"modele", templatePath},
		kv{"appCode", "03"},
		kv{"journal", ""},
		kv{"socLangue", lang},
		kv{"codeModule", "01"},
		kv{"definition", defCreate},
		kv{"codeApplication", "03"},
	)
	b.selfClose("resultat", kv{"flag", ""})
	b.close("meta")

	e.writeClient(&b, p, lang)
	e.writeRep(&b, p)

	incoName, incoCode, incoS := incotermTriple(p)
	b.open("devis",
		kv{"UC", "CAD"},
		kv{"nom", projectName(p)},
		kv{"Mesure", mesureCode(p.MeasurementSys)},
		kv{"TxSemi", FormatDecimal(p.SemiStandardRate)},
		kv{"devise", p.Currency},
		kv{"numero", q.Reference},
		kv{"CratePU", FormatDecimal(p.PalletPrice)},
		kv{"Accompte", FormatDecimal(p.DepositPercent / 100)},
		kv{"Escompte", FormatDecimal(p.DiscountPercent / 100)},
		kv{"Incoterm", incoName},
		kv{"IncotermS", incoS},
		kv{"IncotermInd", incoCode},
		kv{"Paiement", strconv.Itoa(p.PaymentDays)},
		kv{"delaiNbr", intOrEmpty(p.EstimatedWeeks)},
		kv{"emetteur", repFullName(p)},
		kv{"valideur", ""},
		kv{"Complexite", "Spécifique"},
		kv{"TauxChange", FormatDecimal(exchangeRate(p))},
		kv{"optPalette", boolFlag(p.PalletRequired)},
		kv{"DureValidite", strconv.Itoa(p.ValidityDays)},
		kv{"dateEmission", now.Format("02-01-2006")},
		kv{"DelaiEscompte", strconv.Itoa(p.DiscountDays)},
		kv{"ConditionPaiement", paymentLabel(p, lang)},
		kv{"ConditionPaiementInd", paymentInd(p)},
		kv{"ConditionPaiementSaisie", p.PaymentCustomText},
	)
	e.writeLoading(&b)

	if len(p.Lines) == 0 {
		b.selfClose("externe", kv{"devise", ""})
	} else {
		b.open("externe", kv{"devise", ""})
		for i, ln := range p.Lines {
			b.selfClose("ligne",
				kv{"No", fmt.Sprintf("L%d", i+1)},
				kv{"TAG", ln.Tag},
				kv{"GRANITE", lineMaterial(ln, p)},
				kv{"QTY", FormatDecimal(ln.Quantity)},
				kv{"Longeur", FormatDecimal(ln.Length)},
				kv{"Largeur", FormatDecimal(ln.Width)},
				kv{"Epaisseur", FormatDecimal(ln.Thickness)},
				kv{"Description", ln.Description},
				kv{"Poid_Tot", FormatDecimal(ln.TotalWeight)},
				kv{"Prix_unitaire_interne", FormatDecimal(ln.UnitPriceInternal)},
				kv{"Prix_unitaire_externe", FormatDecimal(ln.UnitPrice)},
				kv{"Unité", ln.Unit},
			)
		}
		b.close("externe")
	}

	e.writeStone(&b, p)
	b.close("devis")
	b.selfClose("Fournisseurs")
	b.close("generation")

	return &Descriptor{
		Filename:   SanitizeToken(q.Reference) + ".rak",
		Content:    b.String(),
		TargetPath: target,
	}
}

func (e *Encoder) encodeRevise(q *quote.Quote) *Descriptor {
	p := q.Params
	lang := langCode(p.Language)
	target := e.TargetPath(q)
	now := e.now()

	oldName := p.OldName
	if oldName == "" {
		oldName = p.OriginalReference
	}
	newName := p.NewName
	if newName == "" {
		newName = q.Reference
	}

	var b docBuilder
	b.header(e.CompanyName, now)
	b.open("generation", kv{"type", "Soumission"})
	b.open("meta",
		kv{"cible", target},
		kv{"Langue", lang},
		kv{"action", "reviser"},
		kv{"modele", target},
		kv{"appCode", "03"},
		kv{"journal", ""},
		kv{"ancienNom", oldName},
		kv{"socLangue", lang},
		kv{"codeModule", "01"},
		kv{"definition", defRevise},
		kv{"nouveauNom", newName},
		kv{"ancienCouleur", p.OldColour},
		kv{"ancienQualite", p.OldQuality},
		kv{"nouveauCouleur", p.NewColour},
		kv{"codeApplication", "03"},
		kv{"nouvelleQualite", p.NewQuality},
	)
	b.selfClose("resultat", kv{"flag", ""})
	b.close("meta")

	e.writeClient(&b, p, lang)
	e.writeRep(&b, p)

	b.open("devis",
		kv{"UC", "CAD"},
		kv{"nom", projectName(p)},
		kv{"numero", q.Reference},
		kv{"devise", p.Currency},
	)
	e.writeLoading(&b)
	b.selfClose("externe", kv{"devise", ""})
	e.writeStone(&b, p)
	b.close("devis")
	b.selfClose("Fournisseurs")
	b.close("generation")

	return &Descriptor{
		Filename:   SanitizeToken(q.Reference) + ".rak",
		Content:    b.String(),
		TargetPath: target,
	}
}

func (e *Encoder) encodeReintegrate(q *quote.Quote) *Descriptor {
	target := q.TargetPath
	if target == "" {
		target = e.TargetPath(q)
	}

	var b docBuilder
	b.prologUTF8()
	b.open("generation", kv{"type", "Soumission"})
	b.open("meta",
		kv{"cible", target},
		kv{"Langue", "en"},
		kv{"action", "reintegrer"},
		kv{"quoteId", q.ID},
		kv{"modele", target},
		kv{"appCode", "03"},
		kv{"journal", ""},
		kv{"socLangue", "en"},
		kv{"codeModule", "01"},
		kv{"definition", defReintegrate},
		kv{"codeApplication", "03"},
	)
	b.selfClose("resultat", kv{"flag", ""})
	b.close("meta")
	b.open("devis")
	b.selfClose("externe")
	b.close("devis")
	b.close("generation")

	return &Descriptor{
		Filename:   WorkbookName(q) + ".rak",
		Content:    b.String(),
		TargetPath: target,
	}
}

func (e *Encoder) encodeDuplicate(q *quote.Quote) *Descriptor {
	p := q.Params
	lang := langCode(p.Language)
	target := e.TargetPath(q)
	now := e.now()

	source := q.SourcePath
	if source == "" && p.OriginalReference != "" {
		src := *q
		src.Reference = p.OriginalReference
		source = e.TargetPath(&src)
	}

	var b docBuilder
	b.header(e.CompanyName, now)
	b.open("generation", kv{"type", "Soumission"})
	b.open("meta",
		kv{"cible", target},
		kv{"Langue", lang},
		kv{"action", "recopier"},
		kv{"modele", source},
		kv{"appCode", "03"},
		kv{"journal", ""},
		kv{"ancienNom", p.OriginalReference},
		kv{"socLangue", "en"},
		kv{"codeModule", "01"},
		kv{"definition", defDuplicate},
		kv{"nouveauNom", q.Reference},
		kv{"ancienCouleur", p.OldColour},
		kv{"ancienQualite", p.OldQuality},
		kv{"nouveauCouleur", newColour(p)},
		kv{"codeApplication", "03"},
		kv{"nouvelleQualite", p.MaterialQuality},
	)
	b.selfClose("resultat", kv{"flag", ""})
	b.close("meta")

	e.writeClient(&b, p, lang)
	e.writeRep(&b, p)

	incoName, incoCode, incoS := incotermTriple(p)
	b.open("devis",
		kv{"nom", projectName(p)},
		kv{"numero", q.Reference},
		kv{"UC", "CAD"},
		kv{"Mesure", mesureCode(p.MeasurementSys)},
		kv{"devise", p.Currency},
		kv{"Accompte", FormatDecimal(p.DepositPercent / 100)},
		kv{"Escompte", FormatDecimal(p.DiscountPercent / 100)},
		kv{"Incoterm", incoName},
		kv{"Paiement", strconv.Itoa(p.PaymentDays)},
		kv{"delaiNbr", intOrEmpty(p.EstimatedWeeks)},
		kv{"emetteur", repFullName(p)},
		kv{"IncotermS", incoS},
		kv{"TauxChange", FormatDecimal(exchangeRate(p))},
		kv{"IncotermInd", incoCode},
		kv{"DureValidite", strconv.Itoa(validityDays(p))},
		kv{"dateEmission", now.Format("02-01-2006")},
		kv{"DelaiEscompte", strconv.Itoa(p.DiscountDays)},
		kv{"ConditionPaiement", paymentLabel(p, lang)},
		kv{"ConditionPaiementInd", paymentInd(p)},
		kv{"ConditionPaiementSaisie", p.PaymentCustomText},
	)
	e.writeLoading(&b)
	e.writeStone(&b, p)
	b.selfClose("externe", kv{"devise", ""})
	b.close("devis")
	b.selfClose("Fournisseurs")
	b.close("generation")

	return &Descriptor{
		Filename:   SanitizeToken(q.Reference) + ".rak",
		Content:    b.String(),
		TargetPath: target,
		SourcePath: source,
	}
}

func (e *Encoder) encodePdf(q *quote.Quote) *Descriptor {
	lang := langCode(q.Params.Language)
	target := q.TargetPath
	if target == "" {
		target = e.TargetPath(q)
	}

	var b docBuilder
	b.header(e.CompanyName, e.now())
	b.open("generation", kv{"type", "Soumission"})
	b.open("meta",
		kv{"cible", target},
		kv{"print", ""},
		kv{"Langue", lang},
		kv{"action", "devispdf"},
		kv{"dirpdf", e.PdfDir},
		kv{"modele", target},
		kv{"appCode", "03"},
		kv{"journal", ""},
		kv{"socLangue", lang},
		kv{"codeModule", "01"},
		kv{"definition", defPdf},
		kv{"codeApplication", "03"},
	)
	b.selfClose("resultat", kv{"flag", ""})
	b.close("meta")
	b.open("devis")
	b.selfClose("externe")
	b.close("devis")
	b.close("generation")

	return &Descriptor{
		Filename:   SanitizeToken(q.Reference) + "_PDF.rak",
		Content:    b.String(),
		TargetPath: target,
		SourcePath: target,
	}
}

func (e *Encoder) writeClient(b *docBuilder, p quote.Params, lang string) {
	b.open("client",
		kv{"nom", p.ClientName},
		kv{"pays", countryCode(p.ClientCountry)},
		kv{"ville", p.ClientCity},
		kv{"langue", lang},
		kv{"region", provinceCode(p.ClientRegion)},
		kv{"adresse1", p.ClientAddress},
		kv{"codepostal", p.ClientPostalCode},
	)
	b.open("contacts")
	b.selfClose("contact",
		kv{"cel", FormatPhone(p.ContactMobile)},
		kv{"fax", ""},
		kv{"nom", p.ContactLastName},
		kv{"tel", FormatPhone(p.ContactPhone)},
		kv{"mail", p.ContactEmail},
		kv{"prenom", p.ContactFirstName},
	)
	b.close("contacts")
	b.close("client")
}

func (e *Encoder) writeRep(b *docBuilder, p quote.Params) {
	if p.RepLastName == "" && p.RepFirstName == "" {
		b.selfClose("representant",
			kv{"cel", ""},
			kv{"fax", ""},
			kv{"nom", "System"},
			kv{"tel", ""},
			kv{"mail", "admin@granitex.ca"},
			kv{"prenom", "Admin"},
		)
		return
	}
	cel := p.RepMobile
	if cel == "" {
		cel = p.RepPhone
	}
	b.selfClose("representant",
		kv{"cel", FormatPhone(cel)},
		kv{"fax", ""},
		kv{"nom", p.RepLastName},
		kv{"tel", FormatPhone(p.RepPhone)},
		kv{"mail", p.RepEmail},
		kv{"prenom", p.RepFirstName},
	)
}

func (e *Encoder) writeLoading(b *docBuilder) {
	b.selfClose("LOADING",
		kv{"nom", e.LoadingSite},
		kv{"pays", siteCountry},
		kv{"ville", siteCity},
		kv{"region", siteRegion},
		kv{"adresse1", siteStreet},
		kv{"codepostal", sitePostalCode},
	)
}

func (e *Encoder) writeStone(b *docBuilder, p quote.Params) {
	b.selfClose("pierre",
		kv{"Poid", "175"},
		kv{"prix", FormatDecimal(p.MaterialPrice)},
		kv{"perte", ",4"},
		kv{"unite", stoneUnit(p.MaterialUnit)},
		kv{"devise", p.Currency},
		kv{"couleur", p.MaterialName},
		kv{"qualite", p.MaterialQuality},
		kv{"quantite", strconv.Itoa(p.NumberOfLines)},
		kv{"unitePoid", "lbs"},
	)
}

func langCode(v string) string {
	if strings.HasPrefix(strings.ToLower(v), "en") {
		return "en"
	}
	return "fr"
}

func projectName(p quote.Params) string {
	if p.ProjectName == "" {
		return "Projet"
	}
	return p.ProjectName
}

func repFullName(p quote.Params) string {
	if p.RepFirstName == "" && p.RepLastName == "" {
		return ""
	}
	return strings.TrimSpace(p.RepFirstName + " " + p.RepLastName)
}

func exchangeRate(p quote.Params) float64 {
	if p.ExchangeRate == 0 {
		return 1
	}
	return p.ExchangeRate
}

func validityDays(p quote.Params) int {
	if p.ValidityDays == 0 {
		return 30
	}
	return p.ValidityDays
}

func newColour(p quote.Params) string {
	if p.NewColour != "" {
		return p.NewColour
	}
	return p.MaterialName
}

func lineMaterial(ln quote.LineInput, p quote.Params) string {
	if ln.Material != "" {
		return ln.Material
	}
	return p.MaterialName
}

func boolFlag(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

func intOrEmpty(v int) string {
	if v == 0 {
		return ""
	}
	return strconv.Itoa(v)
}

// mesureCode maps a human measurement-system label to the tool's code:
// imperial -> "an", metric -> "m". Unknown values fall back to imperial.
func mesureCode(v string) string {
	l := strings.ToLower(v)
	if strings.Contains(l, "met") {
		return "m"
	}
	return "an"
}

// stoneUnit converts a surface purchase unit to the volume unit the tool
// prices stone in.
func stoneUnit(v string) string {
	switch v {
	case "sqft":
		return "pi3"
	case "m2":
		return "m3"
	default:
		return v
	}
}

func countryCode(v string) string {
	n := strings.ToUpper(strings.TrimSpace(v))
	switch n {
	case "", "CANADA":
		return "CA"
	case "USA", "UNITED STATES", "ETATS-UNIS":
		return "US"
	}
	if len(n) == 2 {
		return n
	}
	return n[:2]
}

func provinceCode(v string) string {
	n := strings.ToUpper(strings.TrimSpace(v))
	switch n {
	case "", "QUEBEC", "QUÉBEC":
		return "QC"
	case "ONTARIO":
		return "ON"
	case "NEW BRUNSWICK", "NOUVEAU-BRUNSWICK":
		return "NB"
	}
	if len(n) == 2 {
		return n
	}
	return n[:2]
}

// incotermTriple resolves the (Incoterm, IncotermInd, IncotermS) attribute
// set. An explicit code wins; otherwise the code is inferred from the name.
// The S value is the display text: the custom entry when the code means
// free-form, a canonical label for the two known codes, the raw name as a
// last resort.
func incotermTriple(p quote.Params) (name, code, s string) {
	name = p.IncotermName
	if name == "" {
		name = "Ex-Works"
	}

	code = p.IncotermCode
	if code == "" {
		upper := strings.ToUpper(name)
		switch {
		case strings.Contains(upper, "FOB"):
			code = "2"
		case strings.Contains(upper, "EX-WORK"), strings.Contains(upper, "EX WORK"):
			code = "1"
		case strings.Contains(upper, "SAISIE"):
			code = "3"
		default:
			code = "1"
		}
	}

	switch {
	case code == "3" || strings.Contains(strings.ToLower(name), "saisie"):
		s = p.IncotermCustomText
	case code == "1":
		s = "Ex-Work"
	case code == "2":
		s = "FOB"
	default:
		s = name
	}
	return name, code, s
}

// paymentLabel resolves the ConditionPaiement display text: a manual entry
// beats the stored localized label, which beats a synthesized one.
func paymentLabel(p quote.Params, lang string) string {
	if strings.TrimSpace(p.PaymentCustomText) != "" {
		return p.PaymentCustomText
	}
	if lang == "en" && p.PaymentLabelEN != "" {
		return p.PaymentLabelEN
	}
	if lang != "en" && p.PaymentLabelFR != "" {
		return p.PaymentLabelFR
	}
	return PaymentTermLabel(p.PaymentTermCode, p.PaymentDays, p.DepositPercent, lang, p.DiscountPercent, p.DiscountDays)
}

// paymentInd is the numeric payment mode. An explicit code wins even when a
// manual text is present; bare manual text implies the free-form mode 3.
func paymentInd(p quote.Params) string {
	if p.PaymentTermCode != 0 {
		return strconv.Itoa(p.PaymentTermCode)
	}
	if strings.TrimSpace(p.PaymentCustomText) != "" {
		return "3"
	}
	return ""
}

// PaymentTermLabel synthesizes the display text for a payment term code in
// the requested language. Unknown codes yield an empty label.
func PaymentTermLabel(code, days int, deposit float64, lang string, discountPercent float64, discountDays int) string {
	if lang == "fr" {
		switch code {
		case 1:
			return fmt.Sprintf("net %d jours", days)
		case 2:
			return "COD"
		case 3:
			return "Comptant"
		case 4:
			return fmt.Sprintf("%s%% à la commande, solde à la livraison", FormatFloat(deposit))
		case 5:
			return fmt.Sprintf("net %d jours après date de facturation", days)
		case 6:
			return "A déterminer"
		case 7:
			return "Saisie manuelle"
		case 8:
			return fmt.Sprintf("%s%% à la commande et %s%% de remise sur le solde si paiement reçu sous %d jours terme %d jours",
				FormatFloat(deposit), FormatFloat(discountPercent), discountDays, days)
		}
		return ""
	}
	switch code {
	case 1:
		return fmt.Sprintf("net %d days", days)
	case 2:
		return "COD"
	case 3:
		return "Cash"
	case 4:
		return fmt.Sprintf("%s%% deposit on confirmation of order, balance on delivery", FormatFloat(deposit))
	case 5:
		return fmt.Sprintf("net %d days from date of invoice", days)
	case 6:
		return "To be determined"
	case 7:
		return "Manual entry"
	case 8:
		return fmt.Sprintf("%s%% deposit on confirmation of order and %s%% discount on balance if payment received before %d days from date of invoice",
			FormatFloat(deposit), FormatFloat(discountPercent), discountDays)
	}
	return ""
}

// FormatFloat renders a float with no trailing zeros and a period
// separator, for prose labels rather than tool attributes.
func FormatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
