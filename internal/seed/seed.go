package seed

import (
	"context"
	"fmt"
	"log/slog"

	"bustracker/internal/auth"
	"bustracker/internal/model"
	"bustracker/internal/store"
)

// demoRoute is a route seeded into an empty database so the service is
// usable out of the box. The coordinates trace real roads around the
// Kathmandu valley.
type demoRoute struct {
	id        string
	name      string
	waypoints []model.Waypoint
}

const demoPassword = "password123"

// EnsureDemoData populates demo routes and drivers when the database is
// empty. Routes 1-4 each get five drivers named user_<route>_<n> with bus
// numbers bus_<route>_<n>. An already-populated database is left alone.
func EnsureDemoData(ctx context.Context, logger *slog.Logger, st *store.Store, am *auth.Manager) error {
	nRoutes, err := st.CountRoutes(ctx)
	if err != nil {
		return fmt.Errorf("count routes: %w", err)
	}
	if nRoutes == 0 {
		for _, r := range demoRoutes() {
			if err := st.CreateRoute(ctx, r.id, r.name, r.waypoints); err != nil {
				return fmt.Errorf("seed route %s: %w", r.id, err)
			}
		}
		logger.Info("seeded demo routes", "count", len(demoRoutes()))
	}

	nBuses, err := st.CountBuses(ctx)
	if err != nil {
		return fmt.Errorf("count buses: %w", err)
	}
	if nBuses == 0 {
		created := 0
		for i := 1; i <= 4; i++ {
			for j := 1; j <= 5; j++ {
				busNumber := fmt.Sprintf("bus_%d_%d", i, j)
				username := fmt.Sprintf("user_%d_%d", i, j)
				routeID := fmt.Sprintf("route_%d", i)
				if _, err := am.Register(ctx, busNumber, username, routeID, demoPassword); err != nil {
					return fmt.Errorf("seed driver %s: %w", username, err)
				}
				created++
			}
		}
		logger.Info("seeded demo drivers", "count", created)
	}

	return nil
}

func demoRoutes() []demoRoute {
	return []demoRoute{
		{
			id:   "route_1",
			name: "Panauti-Banepa",
			waypoints: []model.Waypoint{
				{Lat: 27.594185, Lon: 85.519209},
				{Lat: 27.594432, Lon: 85.519713},
				{Lat: 27.594908, Lon: 85.520689},
				{Lat: 27.595583, Lon: 85.521119},
				{Lat: 27.596106, Lon: 85.521655},
				{Lat: 27.596363, Lon: 85.521827},
				{Lat: 27.596619, Lon: 85.522310},
				{Lat: 27.597019, Lon: 85.522943},
				{Lat: 27.597798, Lon: 85.523736},
				{Lat: 27.598445, Lon: 85.524123},
				{Lat: 27.598873, Lon: 85.524455},
				{Lat: 27.599529, Lon: 85.524713},
				{Lat: 27.599938, Lon: 85.524970},
				{Lat: 27.600261, Lon: 85.525442},
				{Lat: 27.600556, Lon: 85.526150},
				{Lat: 27.600708, Lon: 85.526526},
				{Lat: 27.600907, Lon: 85.527352},
				{Lat: 27.601221, Lon: 85.528221},
				{Lat: 27.602239, Lon: 85.529144},
				{Lat: 27.602952, Lon: 85.529530},
				{Lat: 27.603560, Lon: 85.529648},
				{Lat: 27.604425, Lon: 85.529541},
				{Lat: 27.605167, Lon: 85.529401},
				{Lat: 27.605956, Lon: 85.529777},
				{Lat: 27.606546, Lon: 85.530131},
				{Lat: 27.607040, Lon: 85.530313},
				{Lat: 27.607696, Lon: 85.530775},
				{Lat: 27.608428, Lon: 85.530549},
				{Lat: 27.609131, Lon: 85.530957},
				{Lat: 27.609721, Lon: 85.531021},
				{Lat: 27.610177, Lon: 85.530485},
				{Lat: 27.611394, Lon: 85.530185},
				{Lat: 27.612640, Lon: 85.529836},
				{Lat: 27.613329, Lon: 85.530093},
				{Lat: 27.613861, Lon: 85.530120},
				{Lat: 27.614184, Lon: 85.529718},
				{Lat: 27.615672, Lon: 85.528827},
				{Lat: 27.616808, Lon: 85.528302},
				{Lat: 27.617982, Lon: 85.527534},
				{Lat: 27.618729, Lon: 85.526853},
				{Lat: 27.619579, Lon: 85.525737},
				{Lat: 27.620991, Lon: 85.524922},
				{Lat: 27.621680, Lon: 85.524160},
				{Lat: 27.622213, Lon: 85.524037},
				{Lat: 27.623154, Lon: 85.523908},
				{Lat: 27.624698, Lon: 85.523366},
				{Lat: 27.625663, Lon: 85.523034},
				{Lat: 27.626752, Lon: 85.522889},
				{Lat: 27.627840, Lon: 85.522814},
				{Lat: 27.628073, Lon: 85.523286},
				{Lat: 27.629941, Lon: 85.523908},
			},
		},
		{
			id:   "route_2",
			name: "Banepa-Panauti",
			waypoints: []model.Waypoint{
				{Lat: 27.629941, Lon: 85.523908},
				{Lat: 27.628073, Lon: 85.523286},
				{Lat: 27.627840, Lon: 85.522814},
				{Lat: 27.626752, Lon: 85.522889},
				{Lat: 27.625663, Lon: 85.523034},
				{Lat: 27.624698, Lon: 85.523366},
				{Lat: 27.623154, Lon: 85.523908},
				{Lat: 27.622213, Lon: 85.524037},
				{Lat: 27.621680, Lon: 85.524160},
				{Lat: 27.620991, Lon: 85.524922},
				{Lat: 27.619579, Lon: 85.525737},
				{Lat: 27.618729, Lon: 85.526853},
				{Lat: 27.617982, Lon: 85.527534},
				{Lat: 27.616808, Lon: 85.528302},
				{Lat: 27.615672, Lon: 85.528827},
				{Lat: 27.614184, Lon: 85.529718},
				{Lat: 27.613861, Lon: 85.530120},
				{Lat: 27.613329, Lon: 85.530093},
				{Lat: 27.612640, Lon: 85.529836},
				{Lat: 27.611394, Lon: 85.530185},
				{Lat: 27.610177, Lon: 85.530485},
				{Lat: 27.609721, Lon: 85.531021},
				{Lat: 27.609131, Lon: 85.530957},
				{Lat: 27.608428, Lon: 85.530549},
				{Lat: 27.607696, Lon: 85.530775},
				{Lat: 27.607040, Lon: 85.530313},
				{Lat: 27.606546, Lon: 85.530131},
				{Lat: 27.605956, Lon: 85.529777},
				{Lat: 27.605167, Lon: 85.529401},
				{Lat: 27.604425, Lon: 85.529541},
				{Lat: 27.603560, Lon: 85.529648},
				{Lat: 27.602952, Lon: 85.529530},
				{Lat: 27.602239, Lon: 85.529144},
				{Lat: 27.601221, Lon: 85.528221},
				{Lat: 27.600907, Lon: 85.527352},
				{Lat: 27.600708, Lon: 85.526526},
				{Lat: 27.600556, Lon: 85.526150},
				{Lat: 27.600261, Lon: 85.525442},
				{Lat: 27.599938, Lon: 85.524970},
				{Lat: 27.599529, Lon: 85.524713},
				{Lat: 27.598873, Lon: 85.524455},
				{Lat: 27.598445, Lon: 85.524123},
				{Lat: 27.597798, Lon: 85.523736},
				{Lat: 27.597019, Lon: 85.522943},
				{Lat: 27.596619, Lon: 85.522310},
				{Lat: 27.596363, Lon: 85.521827},
				{Lat: 27.596106, Lon: 85.521655},
				{Lat: 27.595583, Lon: 85.521119},
				{Lat: 27.594908, Lon: 85.520689},
				{Lat: 27.594432, Lon: 85.519713},
				{Lat: 27.594185, Lon: 85.519209},
				{Lat: 27.593672, Lon: 85.518458},
				{Lat: 27.592816, Lon: 85.517117},
				{Lat: 27.591998, Lon: 85.516870},
				{Lat: 27.591437, Lon: 85.516934},
				{Lat: 27.590677, Lon: 85.516816},
				{Lat: 27.590410, Lon: 85.516731},
				{Lat: 27.590173, Lon: 85.516645},
				{Lat: 27.589459, Lon: 85.515840},
				{Lat: 27.588994, Lon: 85.514703},
				{Lat: 27.603475, Lon: 85.529637},
				{Lat: 27.602578, Lon: 85.529511},
				{Lat: 27.5987, Lon: 85.5364},
			},
		},
		{
			id:   "route_3",
			name: "Panauti-Ratnapark",
			waypoints: []model.Waypoint{
				{Lat: 27.5987, Lon: 85.5364},
				{Lat: 27.5965, Lon: 85.5377},
				{Lat: 27.5950, Lon: 85.5391},
				{Lat: 27.5938, Lon: 85.5405},
				{Lat: 27.5915, Lon: 85.5420},
				{Lat: 27.5890, Lon: 85.5433},
				{Lat: 27.5872, Lon: 85.5442},
				{Lat: 27.5858, Lon: 85.5450},
				{Lat: 27.5841, Lon: 85.5460},
				{Lat: 27.5827, Lon: 85.5473},
				{Lat: 27.5815, Lon: 85.5480},
				{Lat: 27.5802, Lon: 85.5492},
				{Lat: 27.5788, Lon: 85.5503},
			},
		},
		{
			id:   "route_4",
			name: "Ratnapark-Panauti",
			waypoints: []model.Waypoint{
				{Lat: 27.5788, Lon: 85.5503},
				{Lat: 27.5802, Lon: 85.5492},
				{Lat: 27.5815, Lon: 85.5480},
				{Lat: 27.5827, Lon: 85.5473},
				{Lat: 27.5841, Lon: 85.5460},
				{Lat: 27.5858, Lon: 85.5450},
				{Lat: 27.5872, Lon: 85.5442},
				{Lat: 27.5890, Lon: 85.5433},
				{Lat: 27.5915, Lon: 85.5420},
				{Lat: 27.5938, Lon: 85.5405},
				{Lat: 27.5950, Lon: 85.5391},
				{Lat: 27.5965, Lon: 85.5377},
				{Lat: 27.5987, Lon: 85.5364},
			},
		},
	}
}
