package main

import (
	"fmt"
	"io"
	"os"

	coreerrors "github.com/davidahmann/acp/core/errors"
	schemaconsent "github.com/davidahmann/acp/core/schema/v1/consent"
)

const maxInputBytes = 8 << 20

func readInput(path string) ([]byte, error) {
	if path == "" || path == "-" {
		data, err := io.ReadAll(io.LimitReader(os.Stdin, maxInputBytes))
		if err != nil {
			return nil, coreerrors.Wrap(fmt.Errorf("read stdin: %w", err), coreerrors.CategoryIOFailure, "input_unreadable", "", false)
		}
		return data, nil
	}
	// #nosec G304 -- input path is explicit local user input.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, coreerrors.Wrap(fmt.Errorf("read %s: %w", path, err), coreerrors.CategoryInvalidInput, "input_unreadable", "check the file path", false)
	}
	return data, nil
}

func loadRequestFile(path string) (schemaconsent.ConsentRequest, error) {
	data, err := readInput(path)
	if err != nil {
		return schemaconsent.ConsentRequest{}, err
	}
	request, err := schemaconsent.ParseRequest(data)
	if err != nil {
		return schemaconsent.ConsentRequest{}, coreerrors.Wrap(err, coreerrors.CategoryInvalidInput, "request_invalid", "pass a consent_request document in wire form", false)
	}
	return request, nil
}

func loadResponseFile(path string) (schemaconsent.ConsentResponse, error) {
	data, err := readInput(path)
	if err != nil {
		return schemaconsent.ConsentResponse{}, err
	}
	response, err := schemaconsent.ParseResponse(data)
	if err != nil {
		return schemaconsent.ConsentResponse{}, coreerrors.Wrap(err, coreerrors.CategoryInvalidInput, "response_invalid", "pass a consent response document", false)
	}
	return response, nil
}
