package domain

import "time"

// Source column names, in file order.
const (
	ColumnSocialSecurityNumber = "numeroSecuriteSociale"
	ColumnLastName             = "nom"
	ColumnFirstName            = "prenom"
	ColumnBirthDate            = "dateNaissance"
	ColumnAddress              = "adresse"
	ColumnPostalCode           = "codePostal"
	ColumnCity                 = "ville"
	ColumnCountry              = "pays"
	ColumnSpouseName           = "nomConjoint"
	ColumnDependents           = "nombreEnfants"
	ColumnContributionAmount   = "montantCotisation"
)

// DateLayout is the only accepted birth date format.
const DateLayout = "2006-01-02"

// ColumnCount is the number of fields in a contribution record.
const ColumnCount = 11

// SourceColumns lists the positional source columns.
var SourceColumns = [ColumnCount]string{
	ColumnSocialSecurityNumber,
	ColumnLastName,
	ColumnFirstName,
	ColumnBirthDate,
	ColumnAddress,
	ColumnPostalCode,
	ColumnCity,
	ColumnCountry,
	ColumnSpouseName,
	ColumnDependents,
	ColumnContributionAmount,
}

// SheetHeaders lists the header labels written at the top of every sheet.
// Positions match SourceColumns.
var SheetHeaders = [ColumnCount]string{
	"NSS",
	"Nom",
	"Prénom",
	"Date Naissance",
	"Adresse",
	"Code Postal",
	"Ville",
	"Pays",
	"Nom Conjoint",
	"Nombre Enfants",
	"Cotisation",
}

// RawRecord is one tokenized source line keyed by source column name.
type RawRecord struct {
	// Line is the 1-based physical line in the source; the header is line 1.
	Line   int
	Fields map[string]string
}

// Get returns the raw value for a column, or "" when absent.
func (r RawRecord) Get(column string) string {
	if r.Fields == nil {
		return ""
	}
	return r.Fields[column]
}

// ContributionRecord is a validated pension contribution entry.
type ContributionRecord struct {
	SocialSecurityNumber string    `json:"social_security_number"`
	LastName             string    `json:"last_name"`
	FirstName            string    `json:"first_name"`
	BirthDate            time.Time `json:"birth_date"`
	Address              string    `json:"address"`
	PostalCode           string    `json:"postal_code"`
	City                 string    `json:"city"`
	Country              string    `json:"country"`
	SpouseName           string    `json:"spouse_name"`
	Dependents           *int      `json:"dependents,omitempty"`
	ContributionAmount   float64   `json:"contribution_amount"`
}

// DependentsOrZero returns the number of dependents, treating absence as zero.
func (r ContributionRecord) DependentsOrZero() int {
	if r.Dependents == nil {
		return 0
	}
	return *r.Dependents
}
