// Command devtoken signs a JWT for a user id, for calling the API by hand
// while the authentication service is not around.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/chachabrian/bikeshare-backend/internal/models"
	"github.com/chachabrian/bikeshare-backend/pkg/utils"
	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
)

func main() {
	secret := flag.String("secret", os.Getenv("JWT_SECRET"), "HMAC secret the API verifies tokens with")
	userID := flag.Uint("user", 0, "user id")
	role := flag.String("role", string(models.RoleRider), "rider, partner or admin")
	partnerID := flag.Uint("partner", 0, "partner id, for partner tokens")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	if *userID == 0 {
		logrus.Fatal("--user is required")
	}
	user := &models.User{Role: models.UserRole(*role)}
	user.ID = *userID
	if !user.Role.Valid() {
		logrus.Fatalf("unknown role %q", *role)
	}
	if *partnerID != 0 {
		id := *partnerID
		user.PartnerID = &id
	}

	token, err := utils.GenerateToken(*secret, user, *ttl)
	if err != nil {
		logrus.WithError(err).Fatal("failed to sign token")
	}
	fmt.Println(token)
}
