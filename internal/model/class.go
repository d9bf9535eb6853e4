// Package model holds the shared vocabulary of the geocoding database:
// place classes, their hierarchy order and their numeric codes as stored
// in the names, tokens and entities tables.
package model

// Class is the numeric code of a name/place class as stored in the database.
type Class int

const (
	ClassNone          Class = 0
	ClassCountry       Class = 1
	ClassRegion        Class = 2
	ClassCounty        Class = 3
	ClassLocality      Class = 4
	ClassNeighbourhood Class = 5
	ClassStreet        Class = 6
	ClassPostcode      Class = 7
	ClassName          Class = 8
	ClassHousenumber   Class = 9
)

var classNames = map[Class]string{
	ClassCountry:       "country",
	ClassRegion:        "region",
	ClassCounty:        "county",
	ClassLocality:      "locality",
	ClassNeighbourhood: "neighbourhood",
	ClassStreet:        "street",
	ClassPostcode:      "postcode",
	ClassName:          "name",
	ClassHousenumber:   "housenumber",
}

var classCodes = func() map[string]Class {
	m := make(map[string]Class, len(classNames))
	for c, name := range classNames {
		m[name] = c
	}
	return m
}()

// Classes lists every class in code order.
var Classes = []Class{
	ClassCountry, ClassRegion, ClassCounty, ClassLocality,
	ClassNeighbourhood, ClassStreet, ClassPostcode, ClassName, ClassHousenumber,
}

// AncestorClasses lists the hierarchy levels an entity references through
// the staged <class>_id columns, coarsest first.
var AncestorClasses = []Class{
	ClassCountry, ClassRegion, ClassCounty, ClassLocality,
	ClassNeighbourhood, ClassStreet, ClassPostcode, ClassName,
}

// TypePriority orders classes from most to least specific for deriving the
// final entity type: the first populated level wins.
var TypePriority = []Class{
	ClassName, ClassHousenumber, ClassStreet, ClassNeighbourhood,
	ClassLocality, ClassCounty, ClassRegion, ClassCountry,
}

func (c Class) String() string {
	if name, ok := classNames[c]; ok {
		return name
	}
	return "unknown"
}

// ClassByName maps a place type name ("locality", "street", ...) to its code.
func ClassByName(name string) (Class, bool) {
	c, ok := classCodes[name]
	return c, ok
}

// Bit returns the class's bit in a token typemask.
func (c Class) Bit() int64 {
	return 1 << int64(c)
}
