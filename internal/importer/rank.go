package importer

import (
	"go.uber.org/zap"

	"github.com/nutiteq/mobile-sdk-scripts/internal/model"
)

// Extra population added per hierarchy level when ranking; the constants
// approximate unmodeled sibling counts at that level.
var extraPopulation = map[model.Class]int64{
	model.ClassStreet:        100,
	model.ClassNeighbourhood: 1000,
	model.ClassLocality:      10000,
	model.ClassCounty:        100000,
	model.ClassRegion:        1000000,
	model.ClassCountry:       10000000,
}

const defaultExtraPopulation = 10

// rankOf approximates the probability that the referencing entity is the
// unique match given its administrative context: for every present ancestor
// level, multiply by 1 - 1/(population + extra). Missing item info lowers
// nothing and only warns.
func (s *Session) rankOf(dbids map[model.Class]int64) float64 {
	rank := 1.0
	for _, class := range model.Classes {
		dbid := dbids[class]
		if dbid == 0 {
			continue
		}
		ref, ok := s.dbidToRef[class][dbid]
		if !ok {
			s.log.Warn("item info missing when calculating rank", zap.String("class", class.String()))
			continue
		}
		item, ok := s.items[class][ref]
		if !ok {
			s.log.Warn("item info missing when calculating rank", zap.String("class", class.String()))
			continue
		}
		extra := extraPopulation[class]
		if extra == 0 {
			extra = defaultExtraPopulation
		}
		rank *= 1.0 - 1.0/float64(item.Population+extra)
	}
	return rank
}
