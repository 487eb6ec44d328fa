package models

import (
	"log"

	"bitbucket.org/mediaflowhq/publisher_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&PublishTask{}, &PublishJob{},
		&PostMediaContainer{}, &PublishRecord{},
		&ChannelAccount{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
