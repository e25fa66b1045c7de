package main

import (
	"log"
	"os"

	"github.com/sayghamsari/daftarrabet/core"
	"github.com/sayghamsari/daftarrabet/core/school"
	logsvc "github.com/sayghamsari/daftarrabet/services/logger"
	"github.com/sayghamsari/daftarrabet/storage/database"
	sqlxrepos "github.com/sayghamsari/daftarrabet/storage/database/sqlx"
)

func main() {
	conf := core.NewConfig()
	logger := logsvc.NewRollbarLogger(log.New(os.Stderr, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile), conf)

	// set up DB
	db, err := database.Open(conf)
	if err != nil {
		logger.Fatal(err.Error(), err)
	}

	// start CLI
	validate, _ := core.NewValidator()
	cli := commandLine{
		db:        db,
		usrRepo:   sqlxrepos.NewUserRepository(db),
		schoolSvc: school.NewService(conf, sqlxrepos.NewSchoolRepository(db)),
		conf:      conf,
		validate:  validate,
		out:       os.Stdout,
	}
	err = cli.run(os.Args)
	_ = db.Close()
	if err != nil {
		if err != errHelp {
			logger.Error("admin command failed: "+err.Error(), err)
		}
		os.Exit(1)
	}
}
