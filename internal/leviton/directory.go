package leviton

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// devicesFilter asks the cloud to embed each device's buttons.
const devicesFilter = `{"include":["iotButtons"]}`

// ResidentialAccountID returns the first residential account the user has
// permissions on.
func (c *Client) ResidentialAccountID(ctx context.Context) (string, error) {
	session, ok := c.Session()
	if !ok {
		return "", ErrNotAuthenticated
	}

	var perms []struct {
		ResidentialAccountID Text `json:"residentialAccountId"`
	}
	path := fmt.Sprintf("/Person/%s/residentialPermissions", url.PathEscape(session.UserID))
	if err := c.getJSON(ctx, "getting residential permissions", path, nil, &perms); err != nil {
		return "", err
	}

	if len(perms) == 0 {
		return "", fmt.Errorf("%w: permission list is empty", ErrNoResidentialAccount)
	}
	if perms[0].ResidentialAccountID == "" {
		return "", fmt.Errorf("%w: permission entry has no residentialAccountId", ErrNoResidentialAccount)
	}
	return string(perms[0].ResidentialAccountID), nil
}

// ResidenceID returns the account's primary residence, falling back to the
// first listed residence when none is marked primary.
func (c *Client) ResidenceID(ctx context.Context, accountID string) (string, error) {
	var account struct {
		PrimaryResidenceID Text `json:"primaryResidenceId"`
	}
	path := "/ResidentialAccounts/" + url.PathEscape(accountID)
	if err := c.getJSON(ctx, "getting residential account", path, nil, &account); err != nil {
		return "", err
	}
	if account.PrimaryResidenceID != "" {
		return string(account.PrimaryResidenceID), nil
	}

	var residences []struct {
		ID Text `json:"id"`
	}
	if err := c.getJSON(ctx, "listing residences", path+"/residences", nil, &residences); err != nil {
		return "", err
	}
	if len(residences) == 0 || residences[0].ID == "" {
		return "", ErrNoResidence
	}
	return string(residences[0].ID), nil
}

// ListDevices returns every IotSwitch in the residence, buttons included.
func (c *Client) ListDevices(ctx context.Context, residenceID string) ([]Device, error) {
	header := http.Header{}
	header.Set("filter", devicesFilter)

	var devices []Device
	path := fmt.Sprintf("/Residences/%s/iotSwitches", url.PathEscape(residenceID))
	if err := c.getJSON(ctx, "listing devices", path, header, &devices); err != nil {
		return nil, err
	}
	return devices, nil
}

// GetDevice returns the current state of one device.
func (c *Client) GetDevice(ctx context.Context, id string) (Device, error) {
	var device Device
	if err := c.getJSON(ctx, "getting device", "/IotSwitches/"+url.PathEscape(id), nil, &device); err != nil {
		return Device{}, err
	}
	return device, nil
}

// SetAttributes changes device state, e.g. Attributes{Power: PowerOn, Brightness: Int(40)}.
func (c *Client) SetAttributes(ctx context.Context, id string, attrs Attributes) error {
	body, err := json.Marshal(attrs)
	if err != nil {
		return fmt.Errorf("encoding attributes: %w", err)
	}

	status, respBody, err := c.request(ctx, http.MethodPut, "/IotSwitches/"+url.PathEscape(id), body, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return &StatusError{Op: "device update", StatusCode: status, Body: string(respBody), Err: ErrRequestFailed}
	}

	c.logger.Debug("device updated", "device_id", id, "power", attrs.Power)
	return nil
}

func (c *Client) getJSON(ctx context.Context, op, path string, header http.Header, out any) error {
	status, body, err := c.request(ctx, http.MethodGet, path, nil, header)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return &StatusError{Op: op, StatusCode: status, Body: string(body), Err: ErrRequestFailed}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %s: decoding response: %w", ErrRequestFailed, op, err)
	}
	return nil
}
