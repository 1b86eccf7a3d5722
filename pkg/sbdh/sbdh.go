package sbdh

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/google/uuid"

	"github.com/sirosfoundation/go-peppol-ap/pkg/peppolid"
)

// Namespace of the UN/CEFACT Standard Business Document Header
const Namespace = "http://www.unece.org/cefact/namespaces/StandardBusinessDocumentHeader"

const (
	headerVersion = "1.0"

	scopeDocumentID = "DOCUMENTID"
	scopeProcessID  = "PROCESSID"
	scopeCountryC1  = "COUNTRY_C1"

	defaultTypeVersion = "2.1"
)

var (
	// ErrNotSBDH is returned when the document root is not a StandardBusinessDocument
	ErrNotSBDH = errors.New("not a standard business document")
	// ErrMissingField is returned when a required routing field is absent
	ErrMissingField = errors.New("missing required SBDH field")
	// ErrNoBusinessDocument is returned when the SBDH carries no payload element
	ErrNoBusinessDocument = errors.New("no business document in SBDH")
)

// Data holds the routing information and business payload of an SBDH
type Data struct {
	Sender       peppolid.Identifier
	Receiver     peppolid.Identifier
	DocumentType peppolid.Identifier
	Process      peppolid.Identifier
	CountryC1    string

	InstanceIdentifier string
	CreationDateTime   time.Time

	// Standard, TypeVersion and Type describe the business document
	Standard    string
	TypeVersion string
	Type        string

	Business *etree.Element
}

// NewData assembles SBDH data for a business document root element.
// A fresh instance identifier and creation time are assigned.
func NewData(sender, receiver, docType, process peppolid.Identifier, countryC1 string, business *etree.Element) (*Data, error) {
	if business == nil {
		return nil, ErrNoBusinessDocument
	}
	d := &Data{
		Sender:             sender,
		Receiver:           receiver,
		DocumentType:       docType,
		Process:            process,
		CountryC1:          strings.ToUpper(strings.TrimSpace(countryC1)),
		InstanceIdentifier: uuid.NewString(),
		CreationDateTime:   time.Now().UTC(),
		Standard:           business.NamespaceURI(),
		TypeVersion:        typeVersionOf(docType.Value),
		Type:               business.Tag,
		Business:           detach(business),
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// Validate checks that all routing fields are set
func (d *Data) Validate() error {
	switch {
	case d.Sender.IsZero():
		return fmt.Errorf("%w: sender", ErrMissingField)
	case d.Receiver.IsZero():
		return fmt.Errorf("%w: receiver", ErrMissingField)
	case d.DocumentType.IsZero():
		return fmt.Errorf("%w: document type", ErrMissingField)
	case d.Process.IsZero():
		return fmt.Errorf("%w: process", ErrMissingField)
	case d.CountryC1 == "":
		return fmt.Errorf("%w: country C1", ErrMissingField)
	case d.Business == nil:
		return ErrNoBusinessDocument
	}
	return nil
}

// BusinessXML serializes the business document as a standalone XML document
func (d *Data) BusinessXML() ([]byte, error) {
	if d.Business == nil {
		return nil, ErrNoBusinessDocument
	}
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	doc.SetRoot(detach(d.Business))
	return doc.WriteToBytes()
}

// Build serializes the data as an SBDH document
func Build(d *Data) ([]byte, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	root := doc.CreateElement("StandardBusinessDocument")
	root.CreateAttr("xmlns", Namespace)

	header := root.CreateElement("StandardBusinessDocumentHeader")
	header.CreateElement("HeaderVersion").SetText(headerVersion)
	addPartner(header, "Sender", d.Sender)
	addPartner(header, "Receiver", d.Receiver)

	docID := header.CreateElement("DocumentIdentification")
	docID.CreateElement("Standard").SetText(d.Standard)
	docID.CreateElement("TypeVersion").SetText(d.TypeVersion)
	docID.CreateElement("InstanceIdentifier").SetText(d.InstanceIdentifier)
	docID.CreateElement("Type").SetText(d.Type)
	docID.CreateElement("CreationDateAndTime").SetText(d.CreationDateTime.UTC().Format(time.RFC3339))

	scope := header.CreateElement("BusinessScope")
	addScope(scope, scopeDocumentID, d.DocumentType.Value, d.DocumentType.Scheme)
	addScope(scope, scopeProcessID, d.Process.Value, d.Process.Scheme)
	addScope(scope, scopeCountryC1, d.CountryC1, "")

	business := detach(d.Business)
	if business.Space == "" && business.SelectAttr("xmlns") == nil {
		// keep an unqualified payload out of the SBDH default namespace
		business.CreateAttr("xmlns", "")
	}
	root.AddChild(business)

	doc.Indent(2)
	return doc.WriteToBytes()
}

func addPartner(header *etree.Element, tag string, id peppolid.Identifier) {
	ident := header.CreateElement(tag).CreateElement("Identifier")
	ident.CreateAttr("Authority", id.Scheme)
	ident.SetText(id.Value)
}

func addScope(parent *etree.Element, typ, instance, identifier string) {
	s := parent.CreateElement("Scope")
	s.CreateElement("Type").SetText(typ)
	s.CreateElement("InstanceIdentifier").SetText(instance)
	if identifier != "" {
		s.CreateElement("Identifier").SetText(identifier)
	}
}

// Parse reads an SBDH document and validates its routing fields
func Parse(data []byte) (*Data, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("parsing SBDH: %w", err)
	}
	return ParseElement(doc.Root())
}

// ParseElement reads SBDH data from an already parsed StandardBusinessDocument element
func ParseElement(root *etree.Element) (*Data, error) {
	if root == nil || root.Tag != "StandardBusinessDocument" || root.NamespaceURI() != Namespace {
		return nil, ErrNotSBDH
	}
	header := child(root, "StandardBusinessDocumentHeader")
	if header == nil {
		return nil, fmt.Errorf("%w: StandardBusinessDocumentHeader", ErrMissingField)
	}

	r := peppolid.DefaultResolver()
	d := &Data{}
	var err error

	if d.Sender, err = partner(r, header, "Sender"); err != nil {
		return nil, err
	}
	if d.Receiver, err = partner(r, header, "Receiver"); err != nil {
		return nil, err
	}

	if docID := child(header, "DocumentIdentification"); docID != nil {
		d.Standard = childText(docID, "Standard")
		d.TypeVersion = childText(docID, "TypeVersion")
		d.InstanceIdentifier = childText(docID, "InstanceIdentifier")
		d.Type = childText(docID, "Type")
		if ts := childText(docID, "CreationDateAndTime"); ts != "" {
			if t, perr := time.Parse(time.RFC3339Nano, ts); perr == nil {
				d.CreationDateTime = t.UTC()
			}
		}
	}

	if scope := child(header, "BusinessScope"); scope != nil {
		for _, s := range children(scope, "Scope") {
			instance := childText(s, "InstanceIdentifier")
			scheme := childText(s, "Identifier")
			switch childText(s, "Type") {
			case scopeDocumentID:
				if d.DocumentType, err = r.DocumentType(qualify(scheme, instance)); err != nil {
					return nil, err
				}
			case scopeProcessID:
				if d.Process, err = r.Process(qualify(scheme, instance)); err != nil {
					return nil, err
				}
			case scopeCountryC1:
				d.CountryC1 = strings.ToUpper(instance)
			}
		}
	}

	for _, el := range root.ChildElements() {
		if el != header {
			d.Business = detach(el)
			break
		}
	}
	if d.Business != nil {
		if d.Standard == "" {
			d.Standard = d.Business.NamespaceURI()
		}
		if d.Type == "" {
			d.Type = d.Business.Tag
		}
	}

	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

func partner(r *peppolid.Resolver, header *etree.Element, tag string) (peppolid.Identifier, error) {
	el := child(header, tag)
	if el == nil {
		return peppolid.Identifier{}, fmt.Errorf("%w: %s", ErrMissingField, tag)
	}
	ident := child(el, "Identifier")
	if ident == nil {
		return peppolid.Identifier{}, fmt.Errorf("%w: %s identifier", ErrMissingField, tag)
	}
	return r.Participant(qualify(ident.SelectAttrValue("Authority", ""), strings.TrimSpace(ident.Text())))
}

func qualify(scheme, value string) string {
	if scheme == "" {
		return value
	}
	return scheme + "::" + value
}

func childText(el *etree.Element, tag string) string {
	if c := child(el, tag); c != nil {
		return strings.TrimSpace(c.Text())
	}
	return ""
}

// child returns the first SBDH namespace child element named tag
func child(parent *etree.Element, tag string) *etree.Element {
	for _, c := range parent.ChildElements() {
		if c.Tag == tag && c.NamespaceURI() == Namespace {
			return c
		}
	}
	return nil
}

func children(parent *etree.Element, tag string) []*etree.Element {
	var out []*etree.Element
	for _, c := range parent.ChildElements() {
		if c.Tag == tag && c.NamespaceURI() == Namespace {
			out = append(out, c)
		}
	}
	return out
}

// detach copies el together with the namespace declarations it inherits
// from its ancestors, so the copy resolves every prefix on its own.
func detach(el *etree.Element) *etree.Element {
	c := el.Copy()
	declared := make(map[string]bool)
	for _, a := range el.Attr {
		if prefix, ok := namespaceDecl(a); ok {
			declared[prefix] = true
		}
	}
	for p := el.Parent(); p != nil; p = p.Parent() {
		for _, a := range p.Attr {
			prefix, ok := namespaceDecl(a)
			if !ok || declared[prefix] {
				continue
			}
			declared[prefix] = true
			if prefix == "" {
				c.CreateAttr("xmlns", a.Value)
			} else {
				c.CreateAttr("xmlns:"+prefix, a.Value)
			}
		}
	}
	return c
}

// namespaceDecl reports the prefix declared by an xmlns attribute; "" is the default namespace
func namespaceDecl(a etree.Attr) (string, bool) {
	switch {
	case a.Space == "xmlns":
		return a.Key, true
	case a.Space == "" && a.Key == "xmlns":
		return "", true
	}
	return "", false
}

// typeVersionOf extracts the trailing syntax version of a document type value
func typeVersionOf(docType string) string {
	if i := strings.LastIndex(docType, "::"); i >= 0 && i+2 < len(docType) {
		return docType[i+2:]
	}
	return defaultTypeVersion
}
