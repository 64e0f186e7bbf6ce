// Package validation guards user-supplied identifiers and paths before they
// reach the filesystem.
//
// Subject and flow identifiers are restricted to a conservative character
// set so they can double as file names and storage key segments. File
// paths are resolved against a base directory and rejected if they escape
// it, including through symbolic links.
//
//	v, err := validation.NewPathValidator(dataDir)
//	if err != nil {
//	    return err
//	}
//	path, err := v.Validate(subjectID + ".json")
package validation
