// Package testmodel holds fixture entities shared by tests and the sample
// fixture documents.
package testmodel

import "persistkit/pkg/domain"

var _ domain.Entity = (*Beverage)(nil)

// Beverage is the reference fixture entity. Its identity is generated by the
// store when left empty.
type Beverage struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Alcoholic bool   `json:"alcoholic"`
}

// NewBeverage returns a non-alcoholic beverage unless alcoholic is given.
func NewBeverage(name string, alcoholic ...bool) *Beverage {
	b := &Beverage{Name: name}
	if len(alcoholic) > 0 {
		b.Alcoholic = alcoholic[0]
	}
	return b
}

func (b *Beverage) EntityID() string      { return b.ID }
func (b *Beverage) SetEntityID(id string) { b.ID = id }

// NamedQueries declares the queries available through Template.NamedQuery.
func (b *Beverage) NamedQueries() map[string]string {
	return map[string]string{
		"Beverage.findAllAlcoholicBeverages": "select b from Beverage b where b.alcoholic = true",
		"Beverage.findAllByName":             "select b from Beverage b where b.name = ?1",
		"Beverage.findAllByType":             "select b from Beverage b where b.alcoholic = :alcoholic",
	}
}

// Carafe is a second entity with an explicit kind name and caller-assigned
// identity, used to check that kinds do not leak into each other.
type Carafe struct {
	Code     string `json:"-"`
	Capacity int    `json:"capacity"`
}

func (c *Carafe) EntityID() string      { return c.Code }
func (c *Carafe) SetEntityID(id string) { c.Code = id }
func (c *Carafe) EntityKind() string    { return "carafe" }
