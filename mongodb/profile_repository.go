package mongodb

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"go.scistack.dev/oidc/domain"
)

// ProfileRepository implements domain.ProfileRepository against the profile
// and team-membership collections an external user store maintains. This
// module only reads them.
type ProfileRepository struct {
	profiles *mongo.Collection
	teams    *mongo.Collection
}

func NewProfileRepository(db *mongo.Database, teamsCollection string) *ProfileRepository {
	return &ProfileRepository{
		profiles: db.Collection(ProfilesCollection),
		teams:    db.Collection(teamsCollection),
	}
}

func (r *ProfileRepository) GetProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	var profile domain.Profile
	err := r.profiles.FindOne(ctx, bson.M{"_id": userID}).Decode(&profile)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

// MemberTeamIDs intersects the asked-for team ids with the user's actual
// memberships.
func (r *ProfileRepository) MemberTeamIDs(ctx context.Context, userID string, teamIDs []string) ([]string, error) {
	if len(teamIDs) == 0 {
		return nil, nil
	}
	cursor, err := r.teams.Find(ctx, bson.M{
		"member_id": userID,
		"team_id":   bson.M{"$in": teamIDs},
	})
	if err != nil {
		return nil, err
	}
	var memberships []struct {
		TeamID string `bson:"team_id"`
	}
	if err := cursor.All(ctx, &memberships); err != nil {
		return nil, err
	}
	ids := make([]string, len(memberships))
	for i, m := range memberships {
		ids[i] = m.TeamID
	}
	return ids, nil
}
